package advisory

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	bbolt "go.etcd.io/bbolt"
)

var (
	bucketAdvisories = []byte("advisories")
	bucketPackages   = []byte("packages")
	bucketMeta       = []byte("meta")

	metaStatusKey = []byte("status")
)

const importWorkers = 8

// Store is a local advisory database backed by bbolt. Lookups are safe for
// concurrent use.
type Store struct {
	db   *bbolt.DB
	path string
}

// Status describes the store contents
type Status struct {
	Path       string    `json:"path"`
	Advisories int       `json:"advisories"`
	ImportedAt time.Time `json:"imported_at"`
}

// ImportStats summarizes one import run
type ImportStats struct {
	Imported int
	Skipped  int
}

// Open opens or creates the advisory store at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create advisory store directory")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open advisory store %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketAdvisories, bucketPackages, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize advisory store")
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

type importJob struct {
	name string
	data []byte
}

// Import loads OSV documents into the store. Each path may be a JSON file, a
// zip archive of JSON files, or a directory walked for both. Documents are
// upserted by advisory ID.
func (s *Store) Import(paths ...string) (ImportStats, error) {
	var stats ImportStats

	jobs := make(chan importJob, importWorkers*4)
	parsed := make(chan *OSV, importWorkers*4)

	var workers sync.WaitGroup
	var skipped int
	var skippedMu sync.Mutex
	for i := 0; i < importWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				osv := new(OSV)
				if err := json.Unmarshal(job.data, osv); err != nil || osv.ID == "" {
					slog.Warn("skipping unparseable advisory", "file", job.name)
					skippedMu.Lock()
					skipped++
					skippedMu.Unlock()
					continue
				}
				parsed <- osv
			}
		}()
	}

	var advisories []*OSV
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for osv := range parsed {
			advisories = append(advisories, osv)
		}
	}()

	produceErr := func() error {
		defer close(jobs)
		for _, path := range paths {
			if err := produceJobs(path, jobs); err != nil {
				return err
			}
		}
		return nil
	}()
	workers.Wait()
	close(parsed)
	<-collected

	if produceErr != nil {
		return stats, produceErr
	}

	start := time.Now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, osv := range advisories {
			if err := putAdvisory(tx, osv); err != nil {
				return err
			}
		}
		// Advisory counts are derived live in Metadata, only the
		// import time is persisted.
		status := Status{Path: s.path, ImportedAt: time.Now().UTC()}
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metaStatusKey, data)
	})
	if err != nil {
		return stats, errors.Wrap(err, "failed to store advisories")
	}

	stats.Imported = len(advisories)
	stats.Skipped = skipped
	slog.Info("imported advisories", "count", stats.Imported, "skipped", stats.Skipped, "duration", time.Since(start))
	return stats, nil
}

func produceJobs(path string, jobs chan<- importJob) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read advisory source %s", path)
	}

	if info.IsDir() {
		return filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			switch {
			case strings.HasSuffix(entry, ".json"):
				return produceFile(entry, jobs)
			case strings.HasSuffix(entry, ".zip"):
				return produceZip(entry, jobs)
			}
			return nil
		})
	}

	if strings.HasSuffix(path, ".zip") {
		return produceZip(path, jobs)
	}
	return produceFile(path, jobs)
}

func produceFile(path string, jobs chan<- importJob) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	jobs <- importJob{name: path, data: data}
	return nil
}

func produceZip(path string, jobs chan<- importJob) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %s", path)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.FileInfo().IsDir() || !strings.HasSuffix(file.Name, ".json") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return errors.Wrapf(err, "failed to open %s in %s", file.Name, path)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to read %s in %s", file.Name, path)
		}
		jobs <- importJob{name: path + "!" + file.Name, data: data}
	}
	return nil
}

func putAdvisory(tx *bbolt.Tx, osv *OSV) error {
	data, err := json.Marshal(osv)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketAdvisories).Put([]byte(osv.ID), data); err != nil {
		return err
	}
	packages := tx.Bucket(bucketPackages)
	for _, affected := range osv.Affected {
		key := packageKey(affected.Package.Ecosystem, affected.Package.Name, osv.ID)
		if err := packages.Put(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// packageKey builds the package index key. Names are lowercased so lookups
// are case-insensitive.
func packageKey(ecosystem, name, id string) []byte {
	return []byte(ecosystem + "|" + strings.ToLower(name) + "|" + id)
}

// Lookup returns the advisories affecting the given package version. The
// ecosystem may be a package URL type or an OSV ecosystem name. Withdrawn
// advisories are not returned.
func (s *Store) Lookup(ecosystem, name, version string) ([]*OSV, error) {
	eco := OSVEcosystem(ecosystem)
	prefix := packageKey(eco, name, "")

	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketPackages).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			ids = append(ids, string(bytes.TrimPrefix(k, prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan advisory index")
	}

	var matches []*OSV
	err = s.db.View(func(tx *bbolt.Tx) error {
		advisories := tx.Bucket(bucketAdvisories)
		for _, id := range ids {
			data := advisories.Get([]byte(id))
			if data == nil {
				continue
			}
			osv := new(OSV)
			if err := json.Unmarshal(data, osv); err != nil {
				return errors.Wrapf(err, "corrupt advisory %s", id)
			}
			if osv.Withdrawn != nil {
				continue
			}
			if affects(osv, eco, name, version) {
				matches = append(matches, osv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func affects(osv *OSV, ecosystem, name, version string) bool {
	for i := range osv.Affected {
		affected := &osv.Affected[i]
		if affected.Package.Ecosystem != ecosystem {
			continue
		}
		if !strings.EqualFold(affected.Package.Name, name) {
			continue
		}
		if affected.Matches(version) {
			return true
		}
	}
	return false
}

// Metadata reports the store status recorded by the last import
func (s *Store) Metadata() (Status, error) {
	status := Status{Path: s.path}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(metaStatusKey); data != nil {
			if err := json.Unmarshal(data, &status); err != nil {
				return err
			}
		}
		status.Path = s.path
		status.Advisories = tx.Bucket(bucketAdvisories).Stats().KeyN
		return nil
	})
	if err != nil {
		return status, errors.Wrap(err, "failed to read advisory store status")
	}
	return status, nil
}
