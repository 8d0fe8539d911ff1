package attendance

import (
	"fmt"
	"time"

	"qrattend/internal/model"
)

// DefaultMaxScansPerDevice is used when the threshold is not positive.
const DefaultMaxScansPerDevice = 3

// SuspiciousReport is the outcome of DetectSuspicious for one class/date bucket.
type SuspiciousReport struct {
	IsSuspicious bool               `json:"isSuspicious"`
	Flagged      []model.ScanRecord `json:"flaggedRecords"`
	Summary      string             `json:"summary"`
	Window       time.Duration      `json:"-"`
	WindowSecs   int                `json:"timeWindowSeconds"`
	MaxPerDevice int                `json:"maxScansPerDevice"`
	Checked      int                `json:"checkedRecords"`
}

// DetectSuspicious flags every record past the maxPerDevice-th one sharing a
// device fingerprint. records must be in arrival order and are counted as
// given. Records without a fingerprint are never flagged. window is reported
// back but does not bound the count.
func DetectSuspicious(records []model.ScanRecord, window time.Duration, maxPerDevice int) SuspiciousReport {
	if maxPerDevice <= 0 {
		maxPerDevice = DefaultMaxScansPerDevice
	}

	rep := SuspiciousReport{
		Flagged:      []model.ScanRecord{},
		Window:       window,
		WindowSecs:   int(window / time.Second),
		MaxPerDevice: maxPerDevice,
		Checked:      len(records),
	}
	seen := map[string]int{}
	for _, r := range records {
		if r.DeviceFingerprint == "" {
			continue
		}
		seen[r.DeviceFingerprint]++
		if seen[r.DeviceFingerprint] > maxPerDevice {
			rep.Flagged = append(rep.Flagged, r)
		}
	}

	rep.IsSuspicious = len(rep.Flagged) > 0
	if rep.IsSuspicious {
		rep.Summary = fmt.Sprintf("Detected %d suspicious attendance records", len(rep.Flagged))
	} else {
		rep.Summary = "No suspicious attendance patterns detected"
	}
	return rep
}
