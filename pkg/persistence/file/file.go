// Package file provides file-based persistence for routes and tasks.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/routing/pkg/persistence"
)

const (
	routesDir = "routes"
	tasksDir  = "tasks"
)

var errInvalidID = errors.New("invalid identifier")

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root      string
	mu        sync.RWMutex
	routeRepo *RouteRepository
	taskRepo  *TaskRepository
}

// NewPersistence creates a new instance of Persistence rooted at root, which may carry a file:// prefix.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.routeRepo = &RouteRepository{store: p}
	p.taskRepo = &TaskRepository{store: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) RouteRepository() persistence.RouteRepository {
	return fp.routeRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

func (fp *Persistence) path(dir, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", errInvalidID, id)
	}

	return filepath.Join(fp.root, dir, id+".json"), nil
}

func (fp *Persistence) read(dir, id string, target any) error {
	filePath, err := fp.path(dir, id)
	if err != nil {
		return err
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return nil
}

// readAll decodes every document of dir, calling decode once per file.
func (fp *Persistence) readAll(dir string, decode func(body []byte) error) error {
	root := os.DirFS(filepath.Join(fp.root, dir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, file := range jsonFiles {
		body, err := fs.ReadFile(root, file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		err = decode(body)
		if err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", file, err)
		}
	}

	return nil
}

type pendingWrite struct {
	temp   string
	target string
}

// writeAll stages every document in a temporary file and renames them into
// place only once all of them were written.
func (fp *Persistence) writeAll(dir string, docs map[string]any) error {
	err := os.MkdirAll(filepath.Join(fp.root, dir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	staged := make([]pendingWrite, 0, len(docs))

	cleanup := func() {
		for _, w := range staged {
			_ = os.Remove(w.temp)
		}
	}

	for id, doc := range docs {
		target, err := fp.path(dir, id)
		if err != nil {
			cleanup()

			return err
		}

		temp, err := writeTemp(filepath.Dir(target), id, doc)
		if err != nil {
			cleanup()

			return err
		}

		staged = append(staged, pendingWrite{temp: temp, target: target})
	}

	for _, w := range staged {
		err := os.Rename(w.temp, w.target)
		if err != nil {
			cleanup()

			return fmt.Errorf("failed to move %s into place: %w", w.target, err)
		}
	}

	return nil
}

func writeTemp(dir, id string, doc any) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	file, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for %s: %w", id, err)
	}

	_, err = file.Write(data)
	if err == nil {
		err = file.Sync()
	}

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(file.Name())

		return "", fmt.Errorf("failed to write %s: %w", id, err)
	}

	return file.Name(), nil
}

func (fp *Persistence) remove(dir, id string) error {
	filePath, err := fp.path(dir, id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", filePath, err)
	}

	return nil
}
