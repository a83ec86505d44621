package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Marker is the persisted record of a rotation in flight. It is written
// next to the metadata file before key material is touched and removed in
// the rotation's cleanup path. A leftover marker on startup means a
// rotation was interrupted and the key files need a manual audit.
type Marker struct {
	AttemptID       string    `json:"attemptId"`
	KeyName         string    `json:"keyName"`
	EnvironmentFile string    `json:"environmentFile"`
	State           State     `json:"state"`
	StartedAt       time.Time `json:"startedAt"`
}

// MarkerPath derives the marker file location from the metadata file path.
func MarkerPath(metadataPath string) string {
	return metadataPath + ".rotation-in-progress"
}

func writeMarker(path string, marker *Marker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rotation marker: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write rotation marker: %w", err)
	}
	return nil
}

func removeMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadMarker loads a leftover rotation marker. found is false when no
// marker exists.
func ReadMarker(metadataPath string) (*Marker, bool, error) {
	data, err := os.ReadFile(MarkerPath(metadataPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read rotation marker: %w", err)
	}
	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, false, fmt.Errorf("failed to decode rotation marker: %w", err)
	}
	return &marker, true, nil
}

// ClearMarker removes a leftover rotation marker, if any.
func ClearMarker(metadataPath string) error {
	return removeMarker(MarkerPath(metadataPath))
}
