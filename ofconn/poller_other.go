//go:build !linux

package ofconn

import (
	"net/netip"
	"time"
)

type poller struct{}

func newPoller() (*poller, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *poller) add(int, interest) error                       { return ErrUnsupportedPlatform }
func (p *poller) modify(int, interest) error                    { return ErrUnsupportedPlatform }
func (p *poller) remove(int) error                              { return ErrUnsupportedPlatform }
func (p *poller) wait(time.Duration, func(int, interest)) error { return ErrUnsupportedPlatform }
func (p *poller) wake() error                                   { return ErrUnsupportedPlatform }
func (p *poller) close()                                        {}

func listenTCP(netip.AddrPort) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func accept(int) (int, netip.AddrPort, bool, error) {
	return -1, netip.AddrPort{}, false, ErrUnsupportedPlatform
}

func readSome(int, []byte) (int, bool, error) { return 0, false, ErrUnsupportedPlatform }
func writeSome(int, []byte) (int, error)      { return 0, ErrUnsupportedPlatform }
func closeFd(int)                             {}
