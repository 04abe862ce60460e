// Package audio inspects PulseAudio output sinks so users can tell a muted or
// suspended sink apart from a muted engine.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// pulseVolumeNorm is PulseAudio's 100% channel volume.
const pulseVolumeNorm = 0x10000

// Sink describes one Pulse output sink.
type Sink struct {
	ID            string
	Description   string
	State         string
	Available     bool
	Muted         bool
	Default       bool
	VolumePercent int
}

// Usable reports whether audio played to the sink can be heard.
func (s Sink) Usable() bool {
	return s.Available && !s.Muted && s.VolumePercent > 0
}

// ListSinks returns Pulse output sinks with default/availability metadata.
func ListSinks(_ context.Context) ([]Sink, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("cadence"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	defaultSink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}
	defaultID := defaultSink.ID()

	var sinkInfos pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &sinkInfos); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	sinks := make([]Sink, 0, len(sinkInfos))
	for _, info := range sinkInfos {
		if info == nil {
			continue
		}
		sinks = append(sinks, Sink{
			ID:            info.SinkName,
			Description:   info.Device,
			State:         sinkStateString(info.State),
			Available:     sinkAvailable(info),
			Muted:         info.Mute,
			Default:       info.SinkName == defaultID,
			VolumePercent: volumePercent(info.ChannelVolumes),
		})
	}
	sortSinks(sinks)
	return sinks, nil
}

// DefaultSink returns the sink new playback streams are routed to.
func DefaultSink(ctx context.Context) (Sink, error) {
	sinks, err := ListSinks(ctx)
	if err != nil {
		return Sink{}, err
	}
	return defaultFromList(sinks)
}

// FilterSinks keeps sinks whose id or description contains term.
func FilterSinks(sinks []Sink, term string) []Sink {
	term = strings.TrimSpace(strings.ToLower(term))
	if term == "" {
		return sinks
	}
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sinkMatches(sink, term) {
			out = append(out, sink)
		}
	}
	return out
}

func defaultFromList(sinks []Sink) (Sink, error) {
	if len(sinks) == 0 {
		return Sink{}, errors.New("no audio output sinks found")
	}
	for _, sink := range sinks {
		if sink.Default {
			return sink, nil
		}
	}
	return Sink{}, errors.New("default audio sink is unavailable")
}

// sortSinks puts the default first, then orders by id.
func sortSinks(sinks []Sink) {
	sort.SliceStable(sinks, func(i, j int) bool {
		if sinks[i].Default != sinks[j].Default {
			return sinks[i].Default
		}
		return sinks[i].ID < sinks[j].ID
	})
}

// sinkMatches reports whether a search term matches a sink id or description.
func sinkMatches(sink Sink, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(sink.ID)
	desc := strings.ToLower(sink.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// volumePercent averages channel volumes relative to PulseAudio's norm.
func volumePercent(channels []uint32) int {
	if len(channels) == 0 {
		return 0
	}
	var total uint64
	for _, v := range channels {
		total += uint64(v)
	}
	avg := float64(total) / float64(len(channels))
	return int(avg*100/pulseVolumeNorm + 0.5)
}

// sinkStateString maps Pulse sink state constants to human-readable values.
func sinkStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sinkAvailable maps Pulse sink port availability to a simple boolean.
func sinkAvailable(sink *pulseproto.GetSinkInfoReply) bool {
	if sink == nil {
		return false
	}
	if len(sink.Ports) == 0 {
		return true
	}
	for _, port := range sink.Ports {
		if port.Name != sink.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
