package entity

import (
	"fmt"
	"regexp"
	"strconv"
)

type ScanStatusKind string

const (
	StatusPendingScan     ScanStatusKind = "PENDING_SCAN"
	StatusScanning        ScanStatusKind = "SCANNING"
	StatusReady           ScanStatusKind = "READY"
	StatusNoSurfacesRetry ScanStatusKind = "NO_SURFACES_RETRY"
	StatusScanFailed      ScanStatusKind = "SCAN_FAILED"
)

// ScanStatus is the derived scan state stored on a video. Count is only
// meaningful for StatusReady.
type ScanStatus struct {
	Kind  ScanStatusKind
	Count int
}

func PendingScan() ScanStatus     { return ScanStatus{Kind: StatusPendingScan} }
func Scanning() ScanStatus        { return ScanStatus{Kind: StatusScanning} }
func NoSurfacesRetry() ScanStatus { return ScanStatus{Kind: StatusNoSurfacesRetry} }
func ScanFailed() ScanStatus      { return ScanStatus{Kind: StatusScanFailed} }

// Ready returns the success status for n persisted surfaces. Zero surfaces is
// never Ready.
func Ready(n int) ScanStatus {
	if n <= 0 {
		return NoSurfacesRetry()
	}
	return ScanStatus{Kind: StatusReady, Count: n}
}

func (s ScanStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusReady, StatusNoSurfacesRetry, StatusScanFailed:
		return true
	default:
		return false
	}
}

func (s ScanStatus) String() string {
	switch s.Kind {
	case StatusPendingScan:
		return "Pending Scan"
	case StatusScanning:
		return "Scanning"
	case StatusReady:
		return fmt.Sprintf("Ready (%d Spots)", s.Count)
	case StatusNoSurfacesRetry:
		return "No Spots Found"
	case StatusScanFailed:
		return "Scan Failed"
	default:
		return string(s.Kind)
	}
}

var readyPattern = regexp.MustCompile(`^Ready \((\d+) Spots?\)$`)

// ParseScanStatus decodes the persisted status text.
func ParseScanStatus(s string) (ScanStatus, error) {
	switch s {
	case "Pending Scan", "":
		return PendingScan(), nil
	case "Scanning":
		return Scanning(), nil
	case "No Spots Found":
		return NoSurfacesRetry(), nil
	case "Scan Failed":
		return ScanFailed(), nil
	}
	m := readyPattern.FindStringSubmatch(s)
	if m == nil {
		return ScanStatus{}, fmt.Errorf("unknown scan status %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ScanStatus{}, fmt.Errorf("parse ready count %q: %w", s, err)
	}
	return Ready(n), nil
}

func (s ScanStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ScanStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseScanStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
