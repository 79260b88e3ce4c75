package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

// transcriptLine is the on-disk JSONL shape of a single conversation
// message. Unknown fields are ignored.
type transcriptLine struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Timestamp   string   `json:"timestamp"`
	SessionID   string   `json:"sessionId"`
	ProjectName string   `json:"projectName"`
	ProjectPath string   `json:"projectPath"`
	Tools       []string `json:"tools,omitempty"`
}

// SourceReader loads conversation transcripts from JSONL files.
// Transient filesystem failures are retried with exponential backoff
// since transcripts may still be held open by their writer.
type SourceReader struct {
	attempts  int
	baseDelay time.Duration
}

func NewSourceReader(attempts int, baseDelay time.Duration) *SourceReader {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &SourceReader{attempts: attempts, baseDelay: baseDelay}
}

// ReadTranscript parses every well-formed line of the file into a raw
// record. Malformed or empty lines are skipped and reported in issues
// rather than failing the whole file.
func (s *SourceReader) ReadTranscript(ctx context.Context, path string) ([]models.RawRecord, []string, error) {
	data, err := s.readFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	var (
		records []models.RawRecord
		issues  []string
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var tl transcriptLine
		if err := json.Unmarshal(line, &tl); err != nil {
			issues = append(issues, fmt.Sprintf("%s:%d: %v", path, lineNo, err))
			continue
		}
		if tl.Content == "" || tl.SessionID == "" {
			issues = append(issues, fmt.Sprintf("%s:%d: missing content or session id", path, lineNo))
			continue
		}
		records = append(records, models.RawRecord{
			Content:     tl.Content,
			Role:        models.Role(tl.Role),
			SessionID:   tl.SessionID,
			ProjectName: tl.ProjectName,
			ProjectPath: tl.ProjectPath,
			Timestamp:   tl.Timestamp,
			ToolsUsed:   tl.Tools,
		})
	}
	if err := scanner.Err(); err != nil {
		return records, issues, models.E(models.KindTransientAccess, "ingest.ReadTranscript", err)
	}
	return records, issues, nil
}

func (s *SourceReader) readFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewExponential(s.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var readErr error
		data, readErr = os.ReadFile(path)
		if readErr == nil {
			return nil
		}
		if isTransient(readErr) {
			return retry.RetryableError(readErr)
		}
		return readErr
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.E(models.KindInvalidArgument, "ingest.readFile", err)
		}
		return nil, models.E(models.KindTransientAccess, "ingest.readFile", err)
	}
	return data, nil
}

func isTransient(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.ETXTBSY} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
