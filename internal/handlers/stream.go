package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/storage"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

var errStreamTooLarge = errors.New("stream exceeds size limit")

// messageReader is the read side of a websocket connection
type messageReader interface {
	ReadMessage() (int, []byte, error)
}

// StreamHandler receives a recording over a WebSocket: an optional text frame
// with the file name, binary frames with audio bytes, then the text frame END.
type StreamHandler struct {
	db        *storage.MetadataDB
	uploadDir string
	maxBytes  int
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(db *storage.MetadataDB, uploadDir string, maxSizeMB int) *StreamHandler {
	return &StreamHandler{
		db:        db,
		uploadDir: uploadDir,
		maxBytes:  maxSizeMB * 1024 * 1024,
	}
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	name, data, err := h.receive(c)
	if err != nil {
		log.WithError(err).Warn("WebSocket stream aborted")
		h.reply(c, map[string]any{"error": err.Error()})
		return
	}

	rec, err := h.save(context.Background(), name, data)
	if err != nil {
		log.WithError(err).Error("Failed to save stream")
		h.reply(c, map[string]any{"error": "Failed to save stream"})
		return
	}

	h.reply(c, map[string]any{"recording_id": rec.ID, "status": rec.Status})
}

func (h *StreamHandler) reply(c *websocket.Conn, msg map[string]any) {
	data, _ := json.Marshal(msg)
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		log.WithError(err).Debug("WebSocket reply failed")
	}
}

// receive reads frames until END or until the peer goes away
func (h *StreamHandler) receive(r messageReader) (string, []byte, error) {
	var (
		buffer      bytes.Buffer
		requestName string
	)

	for {
		messageType, message, err := r.ReadMessage()
		if err != nil {
			log.Debugf("WebSocket read ended: %v", err)
			break
		}

		switch messageType {
		case websocket.TextMessage:
			msgStr := string(message)
			if msgStr == "END" {
				log.Debug("Received END signal, saving stream")
				return requestName, buffer.Bytes(), nil
			}
			if len(msgStr) > 0 && len(msgStr) < 200 {
				requestName = msgStr
				log.Debugf("Stream name set to: %s", requestName)
			}
		case websocket.BinaryMessage:
			if buffer.Len()+len(message) > h.maxBytes {
				return "", nil, errStreamTooLarge
			}
			buffer.Write(message)
		}
	}

	return requestName, buffer.Bytes(), nil
}

// save writes the streamed bytes into the upload directory and creates a recording
func (h *StreamHandler) save(ctx context.Context, name string, data []byte) (*types.Recording, error) {
	if len(data) == 0 {
		return nil, errors.New("no audio data received")
	}
	if name == "" {
		name = "stream_recording.webm"
	}

	ext := filepath.Ext(name)
	if !audio.ValidateAudioFormat(name) {
		ext = ".webm"
	}
	storedPath := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	if err := os.WriteFile(storedPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save stream buffer: %w", err)
	}

	rec := &types.Recording{
		Filename:   filepath.Base(name),
		Path:       storedPath,
		SourceType: types.SourceStream,
	}
	if err := h.db.CreateRecording(ctx, rec); err != nil {
		os.Remove(storedPath)
		return nil, err
	}

	log.Infof("Stream saved as recording %d (%s, %d bytes)", rec.ID, storedPath, len(data))
	return rec, nil
}
