// Package nanika holds the configuration and identity shared by the ghost host
// daemon and its tools.
//
// The host loads a personality engine (SHIORI), feeds it lifecycle and input
// events, turns the returned SakuraScript into presentation actions and
// advertises itself to other local processes over SSTP and the FMO mailbox.
package nanika

import "runtime"

// Name is the host name sent to personalities as the first OnBoot reference.
const Name = "nanika"

// Version is the host version sent as the second OnBoot reference.
var Version = "0.1.0"

// Platform returns the platform reference for OnBoot.
func Platform() string {
	return runtime.GOOS
}
