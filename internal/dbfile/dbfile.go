// Package dbfile publishes the catalog file and its database-info.json
// sidecar for range-request clients.
package dbfile

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/i18n"
	"archimap/pkg/models"
	"archimap/pkg/schema"
)

const (
	FileName = "archimap.sqlite"
	InfoName = "database-info.json"
)

var ErrMissing = errors.New("dbfile: database file not found")

// File serves one SQLite file. Its info is recomputed whenever the file's
// size or modification time changes.
type File struct {
	Path   string
	Logger *zap.Logger

	mu      sync.Mutex
	info    models.DatabaseInfo
	size    int64
	modTime time.Time
}

func New(path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{Path: path, Logger: logger}
}

func (f *File) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/"+FileName, f.serveFile) // GET /db/archimap.sqlite
	rg.HEAD("/"+FileName, f.serveFile)
	rg.GET("/"+InfoName, f.serveInfo)
}

// ETag identifies a file version by its size and modification time.
func ETag(size int64, modTime time.Time) string {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(size))
	binary.LittleEndian.PutUint64(b[8:], uint64(modTime.UnixNano()))
	return fmt.Sprintf(`"%016x"`, xxh3.Hash(b[:]))
}

func (f *File) serveFile(c *gin.Context) {
	fh, err := os.Open(f.Path)
	if err != nil {
		f.Logger.Warn("open database file", zap.String("path", f.Path), zap.Error(err))
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		apierr.Respond(c, f.Logger, "stat database file", err)
		return
	}

	c.Header("ETag", ETag(st.Size(), st.ModTime()))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "application/vnd.sqlite3")
	http.ServeContent(c.Writer, c.Request, FileName, st.ModTime(), fh)
}

func (f *File) serveInfo(c *gin.Context) {
	info, err := f.Info(c.Request.Context())
	if errors.Is(err, ErrMissing) {
		apierr.Abort(c, http.StatusNotFound, i18n.CodeNotFound)
		return
	}
	if err != nil {
		apierr.Respond(c, f.Logger, "database info", err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, info)
}

// Info returns {size, tables} for the file as it is now on disk.
func (f *File) Info(ctx context.Context) (models.DatabaseInfo, error) {
	st, err := os.Stat(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return models.DatabaseInfo{}, ErrMissing
	}
	if err != nil {
		return models.DatabaseInfo{}, fmt.Errorf("stat %s: %w", f.Path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info.Tables != nil && f.size == st.Size() && f.modTime.Equal(st.ModTime()) {
		return f.info, nil
	}

	tables, err := readTables(ctx, f.Path)
	if err != nil {
		return models.DatabaseInfo{}, err
	}
	f.info = models.DatabaseInfo{Size: st.Size(), Tables: tables}
	f.size, f.modTime = st.Size(), st.ModTime()
	return f.info, nil
}

func readTables(ctx context.Context, path string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+abs+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	tables, err := schema.Tables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("read tables of %s: %w", path, err)
	}
	if tables == nil {
		tables = []string{}
	}
	return tables, nil
}
