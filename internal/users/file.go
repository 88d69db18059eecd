package users

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"nexus_bot/internal/models"
)

// File — json-снимок на диске. Пустой path держит всё в памяти.
type File struct {
	path string

	mu     sync.Mutex
	cache  map[int64]*models.UserConfig
	loaded bool
}

func NewFile(path string) *File {
	return &File{path: path, cache: make(map[int64]*models.UserConfig)}
}

func (u *File) Get(_ context.Context, userID int64) (*models.UserConfig, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.loadLocked(); err != nil {
		return nil, err
	}
	v, ok := u.cache[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

// Save — upsert.
func (u *File) Save(_ context.Context, cfg *models.UserConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.loadLocked(); err != nil {
		return err
	}
	u.cache[cfg.UserID] = cfg.Clone()
	return u.saveLocked()
}

func (u *File) List(context.Context) ([]*models.UserConfig, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]*models.UserConfig, 0, len(u.cache))
	for _, v := range u.cache {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type snapshot struct {
	UpdatedAt time.Time            `json:"updated_at"`
	Users     []*models.UserConfig `json:"users"`
}

func (u *File) loadLocked() error {
	if u.loaded || u.path == "" {
		return nil
	}

	b, err := os.ReadFile(u.path)
	if err != nil {
		if os.IsNotExist(err) {
			u.loaded = true
			return nil
		}
		return errors.Wrapf(err, "read %s", u.path)
	}

	var snap snapshot
	if err := sonic.Unmarshal(b, &snap); err != nil {
		return errors.Wrapf(err, "decode %s", u.path)
	}
	for _, c := range snap.Users {
		if c != nil {
			u.cache[c.UserID] = c
		}
	}
	u.loaded = true
	return nil
}

func (u *File) saveLocked() error {
	if u.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		return err
	}

	snap := snapshot{UpdatedAt: time.Now(), Users: make([]*models.UserConfig, 0, len(u.cache))}
	for _, v := range u.cache {
		snap.Users = append(snap.Users, v)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].UserID < snap.Users[j].UserID })

	b, err := sonic.ConfigStd.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode users")
	}
	tmp := u.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, u.path) // атомарно
}
