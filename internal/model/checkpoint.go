package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Checkpoint layout: a little-endian uint32 header length, a JSON
// Config header, then the raw float64 data of every parameter in
// Parameters() order. Loading replays the same order, so the format
// is tied to the architecture in the header.

const maxHeaderLen = 1 << 20

func (g *GPT) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	header, err := json.Marshal(g.config)
	if err != nil {
		return fmt.Errorf("failed to encode model config: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, p := range g.Parameters() {
		if err := binary.Write(w, binary.LittleEndian, p.Data()); err != nil {
			return fmt.Errorf("failed to write parameters: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}

	return nil
}

func Load(path string) (*GPT, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	if headerLen == 0 || headerLen > maxHeaderLen {
		return nil, fmt.Errorf("implausible checkpoint header length %d", headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(header, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}

	g, err := NewGPT(cfg, 0)
	if err != nil {
		return nil, err
	}

	for _, p := range g.Parameters() {
		if err := binary.Read(r, binary.LittleEndian, p.Data()); err != nil {
			return nil, fmt.Errorf("failed to read parameters: %w", err)
		}
	}

	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("checkpoint has trailing data")
	}

	return g, nil
}
