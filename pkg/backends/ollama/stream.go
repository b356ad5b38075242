package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/model-gateway/pkg/logging"
	"github.com/docker/model-gateway/pkg/openai"
)

// maxFrameBytes bounds a single NDJSON frame from the backend.
const maxFrameBytes = 1 << 20

// streamParams carries the per-stream constants every chunk repeats.
type streamParams struct {
	id      string
	created int64
	model   string
	idle    time.Duration
}

// streamReader adapts the translator pipe into the reader handed to the
// dispatcher. Closing it cancels the upstream request.
type streamReader struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
}

func (s *streamReader) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *streamReader) Close() error {
	s.cancel()
	return s.pr.Close()
}

// newChatStream translates Ollama /api/chat NDJSON frames into OpenAI chat
// completion chunks. The first content-bearing frame carries the assistant
// role, empty deltas after that are dropped, and the done frame becomes the
// finish chunk followed by [DONE]. If the backend stops without a done
// frame, the stream is finished with reason "stop". Frame decoding errors
// and idle timeouts truncate the stream without [DONE].
func newChatStream(log logging.Logger, body io.ReadCloser, cancel context.CancelFunc, p streamParams) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		defer cancel()
		watchdog := time.AfterFunc(p.idle, cancel)
		defer watchdog.Stop()

		writeChunk := func(delta openai.Delta, reason *string) error {
			event, err := openai.Event(openai.ChatCompletionChunk{
				ID:      p.id,
				Object:  "chat.completion.chunk",
				Created: p.created,
				Model:   p.model,
				Choices: []openai.ChunkChoice{{Index: 0, Delta: delta, FinishReason: reason}},
			})
			if err != nil {
				return err
			}
			_, err = pw.Write(event)
			return err
		}
		finish := func(reason string) {
			if err := writeChunk(openai.Delta{}, &reason); err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := pw.Write([]byte(openai.DoneEvent)); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.Close()
		}

		roleSent := false
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
		for scanner.Scan() {
			watchdog.Reset(p.idle)
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame chatFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				pw.CloseWithError(fmt.Errorf("unable to decode chat stream frame: %w", err))
				return
			}
			if frame.Done {
				finish(finishReason(frame.DoneReason))
				return
			}
			delta := openai.Delta{Content: frame.Message.Content}
			if !roleSent {
				delta.Role = "assistant"
				roleSent = true
			}
			if delta == (openai.Delta{}) {
				continue
			}
			if err := writeChunk(delta, nil); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("chat stream ended abnormally")
			pw.CloseWithError(err)
			return
		}
		finish("stop")
	}()
	return &streamReader{pr: pr, cancel: cancel}
}

// newCompletionStream translates Ollama /api/generate NDJSON frames into
// OpenAI text completion chunks. Every frame is forwarded, including empty
// ones; the done frame becomes an empty-text finish chunk followed by
// [DONE].
func newCompletionStream(log logging.Logger, body io.ReadCloser, cancel context.CancelFunc, p streamParams) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		defer cancel()
		watchdog := time.AfterFunc(p.idle, cancel)
		defer watchdog.Stop()

		writeChunk := func(text string, reason *string) error {
			event, err := openai.Event(openai.Completion{
				ID:      p.id,
				Object:  "text_completion",
				Created: p.created,
				Model:   p.model,
				Choices: []openai.CompletionChoice{{Text: text, Index: 0, FinishReason: reason}},
			})
			if err != nil {
				return err
			}
			_, err = pw.Write(event)
			return err
		}
		finish := func(reason string) {
			if err := writeChunk("", &reason); err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := pw.Write([]byte(openai.DoneEvent)); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.Close()
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
		for scanner.Scan() {
			watchdog.Reset(p.idle)
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame generateFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				pw.CloseWithError(fmt.Errorf("unable to decode completion stream frame: %w", err))
				return
			}
			if frame.Done {
				finish(finishReason(frame.DoneReason))
				return
			}
			if err := writeChunk(frame.Response, nil); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("completion stream ended abnormally")
			pw.CloseWithError(err)
			return
		}
		finish("stop")
	}()
	return &streamReader{pr: pr, cancel: cancel}
}
