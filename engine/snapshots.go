package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/kv"
	"github.com/stratabase/strata/kv/kvutil"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	fullSnapshotDir  = "full"
	snapshotExt      = ".snapshot"
	checksumExt      = ".checksum"
	fullSnapshotLock = "@full"
)

type snapshotManifest struct {
	Name       string    `json:"name"`
	Collection string    `json:"collection,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	PeerID     uint64    `json:"peer_id"`
}

type collectionDump struct {
	Record  json.RawMessage `json:"record"`
	Aliases []aliasRecord   `json:"aliases"`
}

type snapshotArchive struct {
	Manifest    snapshotManifest `json:"manifest"`
	Collections []collectionDump `json:"collections"`
}

// SnapshotsRoot is the directory uploaded and created snapshots live under
func (e *Engine) SnapshotsRoot() string {
	return e.snapshots
}

// CreateSnapshot archives a collection's record and aliases into a new snapshot file
func (e *Engine) CreateSnapshot(ctx context.Context, collection string) (*strata.SnapshotDescription, error) {
	unlock := e.locks.Lock(collection)
	defer unlock()
	dump, err := e.dumpCollection(collection)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	name := fmt.Sprintf("%s-%s%s", collection, now.UTC().Format("20060102-150405"), snapshotExt)
	archive := snapshotArchive{
		Manifest: snapshotManifest{
			Name:       name,
			Collection: collection,
			CreatedAt:  now,
			PeerID:     e.peerID,
		},
		Collections: []collectionDump{*dump},
	}
	desc, err := e.writeArchive(filepath.Join(e.snapshots, collection), name, archive)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "snapshot created", map[string]any{
		"collection": collection,
		"snapshot":   name,
	})
	return desc, nil
}

// ListSnapshots lists the stored snapshots of a collection
func (e *Engine) ListSnapshots(ctx context.Context, collection string) ([]strata.SnapshotDescription, error) {
	if _, err := e.getRecord(collection); err != nil {
		return nil, err
	}
	return listSnapshotDir(filepath.Join(e.snapshots, collection))
}

// DeleteSnapshot removes a stored snapshot and its checksum sidecar
func (e *Engine) DeleteSnapshot(ctx context.Context, collection, name string) error {
	if _, err := e.getRecord(collection); err != nil {
		return err
	}
	return deleteFromSnapshotDir(filepath.Join(e.snapshots, collection), name)
}

// SnapshotPath resolves a snapshot name to a readable local file path
func (e *Engine) SnapshotPath(ctx context.Context, collection, name string) (string, error) {
	if _, err := e.getRecord(collection); err != nil {
		return "", err
	}
	return pathInSnapshotDir(filepath.Join(e.snapshots, collection), name)
}

// RecoverSnapshot restores a collection's record and aliases from a snapshot
// archive. The location is read exactly once - remote locations are fetched
// to a temp file first. An existing collection with the same name is replaced.
func (e *Engine) RecoverSnapshot(ctx context.Context, collection string, source strata.SnapshotRecover) (bool, error) {
	if err := source.Validate(); err != nil {
		return false, err
	}
	unlock := e.locks.Lock(collection)
	defer unlock()
	path, cleanup, err := e.resolveLocation(ctx, source.Location)
	if err != nil {
		return false, err
	}
	defer cleanup()
	bits, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, errors.New(errors.NotFound, "snapshot file %s does not exist", path)
		}
		return false, errors.Wrap(err, errors.Internal, "reading snapshot %s", path)
	}
	if err := verifyChecksum(path, bits); err != nil {
		return false, err
	}
	var archive snapshotArchive
	if err := json.Unmarshal(bits, &archive); err != nil {
		return false, errors.Wrap(err, errors.BadInput, "%s is not a snapshot archive", path)
	}
	if archive.Manifest.Collection == "" || len(archive.Collections) != 1 {
		return false, errors.New(errors.BadInput, "%s is not a collection snapshot", path)
	}
	dump := archive.Collections[0]
	if !gjson.GetBytes(dump.Record, "name").Exists() {
		return false, errors.New(errors.BadInput, "%s is not a collection snapshot", path)
	}
	restored, err := sjson.SetBytes(dump.Record, "name", collection)
	if err != nil {
		return false, errors.Wrap(err, errors.Internal, "")
	}
	err = e.db.Tx(true, func(tx kv.Tx) error {
		if err := tx.Set(kvutil.Key(collectionPrefix, collection), restored); err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		for _, alias := range dump.Aliases {
			bits, err := json.Marshal(aliasRecord{
				AliasName:      alias.AliasName,
				CollectionName: collection,
			})
			if err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
			if err := tx.Set(kvutil.Key(aliasPrefix, alias.AliasName), bits); err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	e.logger.Info(ctx, "snapshot recovered", map[string]any{
		"collection": collection,
		"location":   string(source.Location),
		"priority":   string(source.Priority),
	})
	return true, nil
}

// CreateFullSnapshot archives every collection's record and all aliases
func (e *Engine) CreateFullSnapshot(ctx context.Context) (*strata.SnapshotDescription, error) {
	unlock := e.locks.Lock(fullSnapshotLock)
	defer unlock()
	dumps, err := e.dumpAll(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	name := fmt.Sprintf("full-snapshot-%s%s", now.UTC().Format("20060102-150405"), snapshotExt)
	archive := snapshotArchive{
		Manifest: snapshotManifest{
			Name:      name,
			CreatedAt: now,
			PeerID:    e.peerID,
		},
		Collections: dumps,
	}
	desc, err := e.writeArchive(filepath.Join(e.snapshots, fullSnapshotDir), name, archive)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "full snapshot created", map[string]any{"snapshot": name})
	return desc, nil
}

// ListFullSnapshots lists the stored full node snapshots
func (e *Engine) ListFullSnapshots(ctx context.Context) ([]strata.SnapshotDescription, error) {
	return listSnapshotDir(filepath.Join(e.snapshots, fullSnapshotDir))
}

// DeleteFullSnapshot removes a stored full node snapshot
func (e *Engine) DeleteFullSnapshot(ctx context.Context, name string) error {
	return deleteFromSnapshotDir(filepath.Join(e.snapshots, fullSnapshotDir), name)
}

// FullSnapshotPath resolves a full snapshot name to a readable local file path
func (e *Engine) FullSnapshotPath(ctx context.Context, name string) (string, error) {
	return pathInSnapshotDir(filepath.Join(e.snapshots, fullSnapshotDir), name)
}

func (e *Engine) dumpCollection(collection string) (*collectionDump, error) {
	var (
		raw     []byte
		aliases []aliasRecord
	)
	err := e.db.Tx(false, func(tx kv.Tx) error {
		bits, err := tx.Get(kvutil.Key(collectionPrefix, collection))
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		raw = bits
		iter := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(aliasPrefix)})
		defer iter.Close()
		for iter.Valid() {
			val, err := iter.Item().Value()
			if err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
			if gjson.GetBytes(val, "collection_name").String() == collection {
				aliases = append(aliases, aliasRecord{
					AliasName:      gjson.GetBytes(val, "alias_name").String(),
					CollectionName: collection,
				})
			}
			iter.Next()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New(errors.NotFound, "collection %s does not exist", collection)
	}
	return &collectionDump{Record: raw, Aliases: aliases}, nil
}

func (e *Engine) dumpAll(ctx context.Context) ([]collectionDump, error) {
	var names []string
	summaries, err := e.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		names = append(names, summary.Name)
	}
	dumps := make([]collectionDump, 0, len(names))
	for _, name := range names {
		dump, err := e.dumpCollection(name)
		if err != nil {
			return nil, err
		}
		dumps = append(dumps, *dump)
	}
	return dumps, nil
}

func (e *Engine) writeArchive(dir, name string, archive snapshotArchive) (*strata.SnapshotDescription, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "creating snapshot directory")
	}
	bits, err := json.Marshal(archive)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bits, 0600); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "writing snapshot %s", name)
	}
	sum := sha256.Sum256(bits)
	checksum := hex.EncodeToString(sum[:])
	if err := os.WriteFile(path+checksumExt, []byte(checksum), 0600); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "writing snapshot checksum %s", name)
	}
	return &strata.SnapshotDescription{
		Name:         name,
		CreationTime: archive.Manifest.CreatedAt,
		Size:         int64(len(bits)),
		Checksum:     checksum,
	}, nil
}

// resolveLocation turns a snapshot location into a readable local path,
// fetching remote locations to a temp file. The returned cleanup removes any
// temp file.
func (e *Engine) resolveLocation(ctx context.Context, location strata.SnapshotLocation) (string, func(), error) {
	noop := func() {}
	if !location.IsURL() {
		if !filepath.IsAbs(string(location)) {
			return "", noop, errors.New(errors.BadInput, "snapshot location %s must be an absolute path or a url", location)
		}
		return string(location), noop, nil
	}
	raw := string(location)
	if strings.HasPrefix(strings.ToLower(raw), "file://") {
		return raw[len("file://"):], noop, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", noop, errors.Wrap(err, errors.BadInput, "invalid snapshot location %s", location)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", noop, errors.Wrap(err, errors.Internal, "fetching snapshot from %s", location)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, errors.New(errors.Internal, "fetching snapshot from %s: status %d", location, resp.StatusCode)
	}
	tmp, err := os.CreateTemp(e.snapshots, "fetch-*"+snapshotExt)
	if err != nil {
		return "", noop, errors.Wrap(err, errors.Internal, "")
	}
	cleanup := func() {
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, errors.Wrap(err, errors.Internal, "fetching snapshot from %s", location)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, errors.Wrap(err, errors.Internal, "")
	}
	return tmp.Name(), cleanup, nil
}

// verifyChecksum compares the file against its sidecar checksum when one exists
func verifyChecksum(path string, bits []byte) error {
	sidecar, err := os.ReadFile(path + checksumExt)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.Internal, "reading checksum for %s", path)
	}
	sum := sha256.Sum256(bits)
	if hex.EncodeToString(sum[:]) != strings.TrimSpace(string(sidecar)) {
		return errors.New(errors.Internal, "checksum mismatch for snapshot %s", path)
	}
	return nil
}

func listSnapshotDir(dir string) ([]strata.SnapshotDescription, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []strata.SnapshotDescription{}, nil
		}
		return nil, errors.Wrap(err, errors.Internal, "listing snapshots")
	}
	descriptions := []strata.SnapshotDescription{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, errors.Wrap(err, errors.Internal, "listing snapshots")
		}
		desc := strata.SnapshotDescription{
			Name:         entry.Name(),
			CreationTime: info.ModTime(),
			Size:         info.Size(),
		}
		if sidecar, err := os.ReadFile(filepath.Join(dir, entry.Name()+checksumExt)); err == nil {
			desc.Checksum = strings.TrimSpace(string(sidecar))
		}
		descriptions = append(descriptions, desc)
	}
	sort.Slice(descriptions, func(i, j int) bool {
		return descriptions[i].Name < descriptions[j].Name
	})
	return descriptions, nil
}

func deleteFromSnapshotDir(dir, name string) error {
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.NotFound, "snapshot %s does not exist", name)
		}
		return errors.Wrap(err, errors.Internal, "deleting snapshot %s", name)
	}
	os.Remove(path + checksumExt)
	return nil
}

func pathInSnapshotDir(dir, name string) (string, error) {
	path := filepath.Join(dir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.NotFound, "snapshot %s does not exist", name)
		}
		return "", errors.Wrap(err, errors.Internal, "resolving snapshot %s", name)
	}
	return path, nil
}
