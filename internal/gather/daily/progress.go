package daily

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// progressState is the persisted outcome of the last completed run:
// the end date it covered and the symbols that returned no bars.
type progressState struct {
	LastCompleted string   `json:"last_completed"`
	Empty         []string `json:"empty,omitempty"`

	path string
}

func newProgressState(dir, market string) *progressState {
	return &progressState{path: filepath.Join(dir, "."+market+"-daily.json")}
}

// Load reads the state file. A missing file leaves the state empty.
func (p *progressState) Load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, p)
}

// Save writes the state file atomically.
func (p *progressState) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
