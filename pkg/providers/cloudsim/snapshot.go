package cloudsim

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// snapshot is the serialized form of the simulated cloud, so the command
// line can carry the "real world" across process invocations.
type snapshot struct {
	Seq       int                `json:"seq"`
	Resources []resourceSnapshot `json:"resources"`
}

type resourceSnapshot struct {
	ID              string            `json:"id"`
	Kind            engine.Kind       `json:"kind"`
	Observed        engine.Attributes `json:"observed"`
	ValidationName  string            `json:"validation_name,omitempty"`
	ValidationValue string            `json:"validation_value,omitempty"`
	Issued          bool              `json:"issued,omitempty"`
}

// SaveFile writes the simulation's world to a JSON file.
func (c *Cloud) SaveFile(path string) error {
	c.mu.Lock()
	snap := snapshot{Seq: c.seq}
	for _, rec := range c.resources {
		snap.Resources = append(snap.Resources, resourceSnapshot{
			ID:              rec.id,
			Kind:            rec.kind,
			Observed:        rec.observed.Clone(),
			ValidationName:  rec.validationName,
			ValidationValue: rec.validationValue,
			Issued:          rec.issued,
		})
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode simulation state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write simulation state: %w", err)
	}
	return nil
}

// LoadFile restores the simulation's world from a JSON file. A missing file
// means an empty cloud and is not an error.
func (c *Cloud) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read simulation state: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode simulation state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq = snap.Seq
	c.resources = make(map[string]*record, len(snap.Resources))
	for _, rs := range snap.Resources {
		c.resources[rs.ID] = &record{
			id:              rs.ID,
			kind:            rs.Kind,
			observed:        rs.Observed,
			validationName:  rs.ValidationName,
			validationValue: rs.ValidationValue,
			issued:          rs.Issued,
		}
	}
	return nil
}
