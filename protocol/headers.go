package protocol

// Headers is an ordered, case-sensitive header mapping. Setting an existing key
// overwrites its value and keeps its original position. The zero value is ready to use.
type Headers struct {
	keys   []string
	values map[string]string
}

// Set stores value under key.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key, or "" if absent.
func (h *Headers) Get(key string) string {
	return h.values[key]
}

// Lookup returns the value for key and whether it was present.
func (h *Headers) Lookup(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// Del removes key.
func (h *Headers) Del(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the header names in insertion order.
func (h *Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.keys)
}
