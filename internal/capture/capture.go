// Package capture opens live packet capture handles on named network
// interfaces and delivers raw frames with their wire length and timestamp.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/netcensus/netcensus/internal/decode"
)

// Options configures a capture Handle, mirroring §4.1's contract exactly:
// promiscuous mode on, a snap length short enough to capture headers only,
// an 8 MiB+ kernel buffer, immediate-mode delivery, and a short per-call
// timeout so the worker can check for cancellation between reads.
type Options struct {
	SnapLen    int32
	BufferSize int32
	Timeout    time.Duration
}

// Handle wraps a live pcap capture on one adapter.
type Handle struct {
	inner *pcap.Handle
	name  string
}

// ErrTimeout is returned by Next when no frame arrived within the configured
// timeout. It is not a failure — the dominant case — and callers should
// simply call Next again.
var ErrTimeout = errors.New("capture: read timeout")

// Open starts a live capture on adapterName with the given options.
func Open(adapterName string, opts Options) (*Handle, error) {
	inactive, err := pcap.NewInactiveHandle(adapterName)
	if err != nil {
		return nil, fmt.Errorf("capture: create inactive handle on %s: %w", adapterName, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(opts.SnapLen)); err != nil {
		return nil, fmt.Errorf("capture: set snaplen on %s: %w", adapterName, err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("capture: set promisc on %s: %w", adapterName, err)
	}
	if err := inactive.SetTimeout(opts.Timeout); err != nil {
		return nil, fmt.Errorf("capture: set timeout on %s: %w", adapterName, err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("capture: set immediate mode on %s: %w", adapterName, err)
	}
	if opts.BufferSize > 0 {
		if err := inactive.SetBufferSize(int(opts.BufferSize)); err != nil {
			return nil, fmt.Errorf("capture: set buffer size on %s: %w", adapterName, err)
		}
	}

	live, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activate handle on %s: %w", adapterName, err)
	}

	return &Handle{inner: live, name: adapterName}, nil
}

// Next blocks for at most the configured timeout and returns the next
// frame, ErrTimeout, or a hard error. A hard error means the adapter is
// gone, permission was revoked, or the driver faulted; the caller should
// close the handle. The supervisor then marks the adapter Stopped and does
// not reopen it while the adapter stays present.
func (h *Handle) Next() (decode.Frame, error) {
	data, ci, err := h.inner.ZeroCopyReadPacketData()
	if err != nil {
		if err == pcap.NextErrorTimeoutExpired {
			return decode.Frame{}, ErrTimeout
		}
		return decode.Frame{}, fmt.Errorf("capture: read from %s: %w", h.name, err)
	}

	frame := decode.Frame{
		WireLen: ci.Length,
		TsSecs:  ci.Timestamp.Unix(),
		TsUsecs: int64(ci.Timestamp.Nanosecond() / 1000),
	}
	// Copy out of the zero-copy buffer: it is only valid until the next read.
	frame.Data = make([]byte, len(data))
	copy(frame.Data, data)

	return frame, nil
}

// Close releases the underlying pcap handle. Safe to call once; the worker
// owns the handle for its lifetime and closes it on exit.
func (h *Handle) Close() {
	h.inner.Close()
}

// IsPermissionError reports whether err indicates the capture device could
// not be opened due to insufficient privilege, as opposed to a missing or
// faulted device. Supervisor uses this to log a degraded-but-non-fatal
// condition instead of treating it like any other open failure.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	var actErr pcap.ActivateError
	if errors.As(err, &actErr) {
		return actErr == pcap.AEDenied || actErr == pcap.AEPromiscPermDenied
	}
	return false
}
