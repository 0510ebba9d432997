package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/parser"
)

func TestProcessMsgs(t *testing.T) {
	at := time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	msgs := make(chan dive.Message, 8)
	for _, m := range []dive.Message{
		{Dir: dive.Tx, Data: []byte{0x3C, 0x01}, Timestamp: at},
		{Dir: dive.Tx, Data: []byte{0x10, 0x10, 0x3E}, Timestamp: at.Add(time.Millisecond)},
		{Dir: dive.Rx, Data: []byte{0x3C}, Timestamp: at.Add(20 * time.Millisecond)},
		{Dir: dive.Rx, Data: []byte{0x3E}, Timestamp: at.Add(40 * time.Millisecond)},
	} {
		msgs <- m
	}
	close(msgs)

	var out bytes.Buffer
	require.NoError(t, processMsgs(&out, msgs))
	assert.Equal(t,
		"09:30:00.000 > 3C 01 10 10 3E\n"+
			"09:30:00.020 < 3C\n"+
			"09:30:00.040 < 3E\n",
		out.String())
}

func TestPrintDive(t *testing.T) {
	temp := parser.Temperature{Milli: 18500, Unit: parser.Celsius}
	d := &parser.Dive{
		Number:         7,
		Start:          time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC),
		Duration:       42 * time.Minute,
		MaxDepth:       21 * parser.Metre,
		MinTemperature: &temp,
		Gases:          []parser.GasMix{{Oxygen: 32}},
		Samples: []parser.Sample{
			{Time: 10 * time.Second, Depth: 3 * parser.Metre, Events: []parser.Event{{Kind: parser.EventBookmark}}},
		},
	}

	var out bytes.Buffer
	printDive(&out, d, true)
	got := out.String()
	assert.Contains(t, got, "#7")
	assert.Contains(t, got, "2024-08-01 09:30")
	assert.Contains(t, got, "21 m")
	assert.Contains(t, got, "18.5 °C")
	assert.Contains(t, got, "32/0")
	assert.Contains(t, got, "[bookmark 0]")
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2024-08-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

func TestNumbered(t *testing.T) {
	assert.Equal(t, "s.rec", numbered("s.rec", 0, 1))
	assert.Equal(t, "s.rec.0", numbered("s.rec", 0, 2))
	assert.Equal(t, "s.rec.1", numbered("s.rec", 1, 2))
}
