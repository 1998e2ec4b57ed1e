package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	domain "github.com/oshokin/kiosk-agent/internal/domain/update"
)

// Repository defines persistence operations for applied digests.
type Repository interface {
	Load(ctx context.Context) (*domain.Versions, error)
	Save(ctx context.Context, record *domain.Versions) error
}

// FileRepository persists the digest record to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON record.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the record file does not exist yet.
	ErrNotFound = errors.New("version record not found")
	// ErrCorrupt is returned when the record file cannot be decoded.
	// Callers treat it as an empty record, never as a fatal condition.
	ErrCorrupt = errors.New("version record corrupt")
)

const (
	// filePermissions restricts the record to the agent's user.
	filePermissions = 0o600
	// dirPermissions applies when the record directory has to be created.
	dirPermissions = 0o750
)

// versionsFile is the on-disk JSON shape. Pointers distinguish a recorded
// digest from null, which marks a never-updated workload.
type versionsFile struct {
	// Device is the applied device workload digest, or null.
	Device *string `json:"device"`
	// Agent is the applied agent digest, or null.
	Agent *string `json:"agent"`
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the digest record from disk.
func (r *FileRepository) Load(_ context.Context) (*domain.Versions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read version record: %w", err)
	}

	var wire versionsFile
	if err = json.Unmarshal(contents, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return fromWire(&wire), nil
}

// Save writes the digest record to disk, creating the directory when needed.
func (r *FileRepository) Save(_ context.Context, record *domain.Versions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(toWire(record))
	if err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), dirPermissions); err != nil {
		return fmt.Errorf("create version record directory: %w", err)
	}

	if err = os.WriteFile(r.path, data, filePermissions); err != nil {
		return fmt.Errorf("write version record: %w", err)
	}

	return nil
}

// fromWire converts the on-disk shape into the domain record.
func fromWire(wire *versionsFile) *domain.Versions {
	record := new(domain.Versions)

	if wire.Device != nil {
		record.Device = *wire.Device
	}

	if wire.Agent != nil {
		record.Agent = *wire.Agent
	}

	return record
}

// toWire converts the domain record into the on-disk shape.
func toWire(record *domain.Versions) *versionsFile {
	wire := new(versionsFile)

	if record.Device != "" {
		wire.Device = &record.Device
	}

	if record.Agent != "" {
		wire.Agent = &record.Agent
	}

	return wire
}
