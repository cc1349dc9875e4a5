package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

const expectedSampleRate = 16000

func main() {
	logging.Init(logging.Config{Level: "info", Format: "console"})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audioclient",
	Short: "Stream a WAV file to the speech session service",
}

var serverURL string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Service base URL")
	rootCmd.AddCommand(initCmd(), streamCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := createSession(serverURL)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func streamCmd() *cobra.Command {
	var (
		audioFile string
		sessionID string
		chunkMs   int
		pauseAt   time.Duration
		pauseFor  time.Duration
		linger    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a 16 kHz 16-bit mono WAV file over /ws",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				id, err := createSession(serverURL)
				if err != nil {
					return err
				}
				sessionID = id
			}
			return stream(streamOptions{
				audioFile: audioFile,
				sessionID: sessionID,
				chunk:     time.Duration(chunkMs) * time.Millisecond,
				pauseAt:   pauseAt,
				pauseFor:  pauseFor,
				linger:    linger,
			})
		},
	}

	cmd.Flags().StringVar(&audioFile, "audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Existing session id (created when empty)")
	cmd.Flags().IntVar(&chunkMs, "chunk-ms", 100, "Audio per frame in milliseconds")
	cmd.Flags().DurationVar(&pauseAt, "pause-at", 0, "Send a pause control frame after this much audio")
	cmd.Flags().DurationVar(&pauseFor, "pause-for", 2*time.Second, "How long to stay paused")
	cmd.Flags().DurationVar(&linger, "linger", 3*time.Second, "Wait for trailing transcripts before disconnecting")
	return cmd
}

type streamOptions struct {
	audioFile string
	sessionID string
	chunk     time.Duration
	pauseAt   time.Duration
	pauseFor  time.Duration
	linger    time.Duration
}

func createSession(base string) (string, error) {
	resp, err := http.Post(strings.TrimSuffix(base, "/")+"/api/sessions/init", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create session: unexpected status %s", resp.Status)
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	return body.SessionID, nil
}

func stream(opts streamOptions) error {
	f, err := os.Open(opts.audioFile)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	sampleRate, err := readWAVHeader(f)
	if err != nil {
		return err
	}

	wsURL, err := websocketURL(serverURL, opts.sessionID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	log.Info().Str("sessionId", opts.sessionID).Msg("Connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		readMessages(conn)
	}()

	chunkSize := int(opts.chunk.Seconds()*float64(sampleRate)) * 2
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk duration %v", opts.chunk)
	}
	buf := make([]byte, chunkSize)

	var sent time.Duration
	paused := false
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			sent += opts.chunk
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}

		if opts.pauseAt > 0 && !paused && sent >= opts.pauseAt {
			paused = true
			if err := sendControl(conn, models.ControlPause); err != nil {
				return err
			}
			log.Info().Dur("after", sent).Msg("Paused")
			time.Sleep(opts.pauseFor)
			if err := sendControl(conn, models.ControlResume); err != nil {
				return err
			}
			log.Info().Msg("Resumed")
		}

		// Simulate real-time streaming
		time.Sleep(opts.chunk)
	}

	log.Info().Dur("audio", sent).Msg("Finished streaming, waiting for trailing transcripts")
	select {
	case <-done:
		return nil
	case <-time.After(opts.linger):
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

func readMessages(conn *websocket.Conn) {
	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Read loop ended")
			}
			return
		}

		switch msg.Type {
		case models.TypeTranscript:
			if msg.IsFinal != nil && *msg.IsFinal {
				log.Info().Str("text", msg.Text).Msg("Final")
			} else {
				log.Debug().Str("text", msg.Text).Msg("Interim")
			}
		case models.TypeSessionComplete:
			transcript := ""
			if msg.Transcript != nil {
				transcript = *msg.Transcript
			}
			log.Info().Str("reason", msg.Reason).Str("transcript", transcript).Msg("Session complete")
		case models.TypeError:
			log.Error().Str("message", msg.Message).Msg("Server error")
		}
	}
}

func sendControl(conn *websocket.Conn, frameType string) error {
	data, err := json.Marshal(models.ControlFrame{Type: frameType})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", frameType, err)
	}
	return nil
}

func websocketURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	return u.String(), nil
}

// readWAVHeader validates a PCM WAV header and returns its sample rate.
func readWAVHeader(r io.Reader) (int, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 { // PCM
		return 0, fmt.Errorf("only PCM format supported")
	}
	if numChannels != 1 || bitsPerSample != 16 {
		return 0, fmt.Errorf("expected 16-bit mono, got %d-bit with %d channels", bitsPerSample, numChannels)
	}
	if sampleRate != expectedSampleRate {
		log.Warn().Uint32("sampleRate", sampleRate).Msg("Sample rate differs from 16000 Hz")
	}
	return int(sampleRate), nil
}
