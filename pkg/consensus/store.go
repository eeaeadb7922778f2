package consensus

import (
	"bytes"
	"io/ioutil"

	goerrors "github.com/go-errors/errors"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	bolt "go.etcd.io/bbolt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/dbft"
	vio "github.com/vireonet/vireo/pkg/io"
)

var selfStateBucket = []byte("dbft_self_state")

// Store is the node's durable state backend: it keeps the one
// SelfState record a node needs to replay its own
// signed PreCommit/Commit after a crash (bbolt) and, separately, an
// optional LZ4-compressed archive of relayed payloads in goleveldb.
// Service does not call the archive methods, so its relay cache starts
// empty after a restart.
type Store struct {
	self    *bolt.DB
	archive *leveldb.DB
}

// OpenStore opens (creating if absent) the bbolt self-state database
// at selfPath and, if archivePath is non-empty, the goleveldb recovery
// archive at archivePath.
func OpenStore(selfPath, archivePath string) (*Store, error) {
	db, err := bolt.Open(selfPath, 0600, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(selfStateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, 0)
	}

	s := &Store{self: db}

	if archivePath != "" {
		adb, err := leveldb.OpenFile(archivePath, nil)
		if err != nil {
			db.Close()
			return nil, goerrors.Wrap(err, 0)
		}
		s.archive = adb
	}

	return s, nil
}

// Close releases both underlying databases.
func (s *Store) Close() error {
	var err error
	if s.archive != nil {
		err = s.archive.Close()
	}
	if cerr := s.self.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func selfStateKey(height uint32, view byte) []byte {
	var buf [5]byte
	buf[0] = byte(height >> 24)
	buf[1] = byte(height >> 16)
	buf[2] = byte(height >> 8)
	buf[3] = byte(height)
	buf[4] = view
	return buf[:]
}

// SaveSelfState persists state, overwriting any prior record for the
// same (height, view): dbft.DBFT only ever calls Save with
// progressively more advanced state for the round it's currently in.
func (s *Store) SaveSelfState(state *dbft.SelfState) error {
	buf := new(bytes.Buffer)
	w := vio.NewBinWriterFromIO(buf)
	encodeSelfState(w, state)
	w.Flush()
	if w.Err != nil {
		return errors.Wrap(w.Err, "encode self state")
	}

	return s.self.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(selfStateBucket)
		return b.Put(selfStateKey(state.BlockIndex, state.ViewNumber), buf.Bytes())
	})
}

// LoadSelfState returns the most recently persisted SelfState, or nil
// if none has ever been saved.
func (s *Store) LoadSelfState() (*dbft.SelfState, error) {
	var raw []byte

	err := s.self.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(selfStateBucket).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load self state")
	}
	if raw == nil {
		return nil, nil
	}

	r := vio.NewBinReaderFromIO(bytes.NewReader(raw))
	state := decodeSelfState(r)
	if r.Err != nil {
		return nil, goerrors.Wrap(r.Err, 0)
	}

	return state, nil
}

func encodeSelfState(w *vio.BinWriter, s *dbft.SelfState) {
	w.WriteU32LE(s.BlockIndex)
	w.WriteB(s.ViewNumber)
	w.WriteB(byte(s.Slot))
	w.WriteBool(s.PreCommit)
	w.WriteBool(s.Commit)
	w.WriteVarBytes(s.Signature)
	w.WriteBytes(s.HeaderHash.Bytes())
}

func decodeSelfState(r *vio.BinReader) *dbft.SelfState {
	s := &dbft.SelfState{}
	s.BlockIndex = r.ReadU32LE()
	s.ViewNumber = r.ReadB()
	s.Slot = dbft.Slot(r.ReadB())
	s.PreCommit = r.ReadBool()
	s.Commit = r.ReadBool()
	s.Signature = r.ReadVarBytes()

	var h [32]byte
	r.ReadBytes(h[:])
	s.HeaderHash = common.Hash(h)

	return s
}

// ArchiveRecoveryPayload stores the LZ4-compressed bytes of a relayed
// envelope keyed by its content hash, for LoadRecoveryPayload to return
// after a restart. It is a no-op when no archive path was opened.
func (s *Store) ArchiveRecoveryPayload(h common.Hash, raw []byte) error {
	if s.archive == nil {
		return nil
	}

	compressed, err := lz4Compress(raw)
	if err != nil {
		return errors.Wrap(err, "compress recovery payload")
	}

	return s.archive.Put(h.Bytes(), compressed, nil)
}

// LoadRecoveryPayload returns the decompressed bytes previously stored
// by ArchiveRecoveryPayload, or nil if h isn't archived.
func (s *Store) LoadRecoveryPayload(h common.Hash) ([]byte, error) {
	if s.archive == nil {
		return nil, nil
	}

	compressed, err := s.archive.Get(h.Bytes(), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read recovery payload")
	}

	return lz4Decompress(compressed)
}

func lz4Compress(raw []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := lz4.NewWriter(buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(compressed []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	return ioutil.ReadAll(zr)
}
