// Package archive implements optional host-side session recording to
// durable storage (spec SPEC_FULL.md §C "Supplemented features": session
// recording / archival). It generalizes the teacher's local FLV-to-disk
// recording path (cmd/rtmp-server's -record-all/-record-dir flags) into
// blob-storage recording, the concern the teacher's cmd/blob-sidecar binary's
// go.mod (azure-sdk-for-go/sdk/storage/azblob + sdk/azidentity) exists for.
// Recordings are not FLV: each frame is stored behind a 16-byte
// frameRecordHeader in a single ".mirage" blob per session.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/miragekit/core/internal/logger"
)

// Recorder uploads per-session recordings of encoded frames to Azure
// Blob Storage.
type Recorder struct {
	client    *azblob.Client
	container string
}

// NewRecorder constructs a Recorder authenticated via the default Azure
// credential chain (managed identity, environment, Azure CLI, ...),
// uploading to container on the storage account at accountURL.
func NewRecorder(accountURL, container string) (*Recorder, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("archive: default credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: new client: %w", err)
	}
	return &Recorder{client: client, container: container}, nil
}

// frameRecordHeader precedes each recorded frame in a session's buffer:
// streamID, a flag byte (bit 0 = keyframe), the frame's monotonic
// presentation timestamp, and its byte length.
type frameRecordHeader struct {
	StreamID  uint16
	Flags     uint8
	_         uint8
	Timestamp uint64
	Length    uint32
}

// frameRecordHeaderSize is frameRecordHeader's encoded size; binary.Write
// emits exactly this many bytes per call since every field is fixed-width.
const frameRecordHeaderSize = 16

const keyframeFlag uint8 = 1

// SessionRecording buffers one session's encoded frames in memory
// until Close uploads them as a single blob. Safe for concurrent
// AppendFrame calls from multiple stream tasks.
type SessionRecording struct {
	sessionID string
	rec       *Recorder

	mu  sync.Mutex
	buf bytes.Buffer
}

// StartSession begins buffering a new session recording.
func (r *Recorder) StartSession(sessionID string) *SessionRecording {
	return &SessionRecording{sessionID: sessionID, rec: r}
}

// AppendFrame records one whole encoded frame into the session buffer;
// mirage-host calls it with each frame's encoder output before
// fragmentation.
func (s *SessionRecording) AppendFrame(streamID uint16, frameBytes []byte, isKeyframe bool, timestampNs uint64) {
	var flags uint8
	if isKeyframe {
		flags = keyframeFlag
	}
	hdr := frameRecordHeader{StreamID: streamID, Flags: flags, Timestamp: timestampNs, Length: uint32(len(frameBytes))}

	s.mu.Lock()
	defer s.mu.Unlock()
	// bytes.Buffer never returns a write error.
	_ = binary.Write(&s.buf, binary.LittleEndian, hdr)
	s.buf.Write(frameBytes)
}

// Size returns the number of bytes buffered so far.
func (s *SessionRecording) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Close uploads the accumulated recording as a single blob named
// "<sessionID>-<unix-nanos>.mirage" and releases the buffer. Closing an
// empty recording is a no-op.
func (s *SessionRecording) Close(ctx context.Context) error {
	s.mu.Lock()
	data := s.buf.Bytes()
	s.buf = bytes.Buffer{}
	s.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	blobName := fmt.Sprintf("%s-%d.mirage", s.sessionID, time.Now().UnixNano())
	_, err := s.rec.client.UploadBuffer(ctx, s.rec.container, blobName, data, &blockblob.UploadBufferOptions{})
	if err != nil {
		logger.Logger().With("component", "archive").Error("session upload failed", "session_id", s.sessionID, "error", err)
		return fmt.Errorf("archive: upload session %s: %w", s.sessionID, err)
	}
	return nil
}
