package protocol

// Status codes used by SHIORI and SSTP.
const (
	StatusOK                  = 200
	StatusNoContent           = 204
	StatusBreak               = 210
	StatusBadRequest          = 400
	StatusRequestTimeout      = 408
	StatusConflict            = 409
	StatusRefuse              = 420
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusServiceUnavailable  = 503
	StatusNotLocalIP          = 510
	StatusInBlackList         = 511
	StatusInvisible           = 512
)

var statusText = map[int]string{
	StatusOK:                  "OK",
	StatusNoContent:           "No Content",
	StatusBreak:               "Break",
	StatusBadRequest:          "Bad Request",
	StatusRequestTimeout:      "Request Timeout",
	StatusConflict:            "Conflict",
	StatusRefuse:              "Refuse",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusNotLocalIP:          "Not Local IP",
	StatusInBlackList:         "In Black List",
	StatusInvisible:           "Invisible",
}

// StatusText returns the reason phrase for code, or "" if it is unknown.
func StatusText(code int) string {
	return statusText[code]
}
