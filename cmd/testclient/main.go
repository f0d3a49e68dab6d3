package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"json-validator-service/internal/flow"
)

var (
	brokers  string
	topic    string
	endpoint string
)

var rootCmd = &cobra.Command{
	Use:   "testclient",
	Short: "Send JSON documents to the validator service",
}

var publishCmd = &cobra.Command{
	Use:   "publish [file...]",
	Short: "Publish JSON files to the input topic",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPublish,
}

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Dry-run validate JSON files over HTTP",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	publishCmd.Flags().StringVar(&brokers, "brokers", "localhost:9092", "comma-separated Kafka brokers")
	publishCmd.Flags().StringVar(&topic, "topic", "documents", "input topic")
	checkCmd.Flags().StringVar(&endpoint, "addr", "http://localhost:8080", "service HTTP address")
	rootCmd.AddCommand(publishCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPublish(cmd *cobra.Command, args []string) error {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	defer writer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	for _, path := range args {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		id := uuid.NewString()
		msg := kafka.Message{
			Key:   []byte(id),
			Value: body,
			Headers: []kafka.Header{
				{Key: flow.AttrUUID, Value: []byte(id)},
				{Key: flow.AttrFilename, Value: []byte(filepath.Base(path))},
			},
		}
		if err := writer.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		log.Printf("Published %s: uuid=%s bytes=%d", path, id, len(body))
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	for _, path := range args {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
			strings.TrimRight(endpoint, "/")+"/v1/validate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}
		out, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response for %s: %w", path, err)
		}
		log.Printf("%s: status=%d %s", path, resp.StatusCode, bytes.TrimSpace(out))
	}
	return nil
}
