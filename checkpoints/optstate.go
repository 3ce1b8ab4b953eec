package checkpoints

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// OptimizerSlot is one optimizer state tensor (first/second moment etc.)
// keyed by the parameter it belongs to.
type OptimizerSlot struct {
	Name  string
	Kind  string // "m", "v"
	Shape []int
	Data  []float32
}

// OptimizerState is the combined state of all trainable stages' optimizers
// at one iteration.
type OptimizerState struct {
	Type      string
	Iteration int
	Step      int
	Hyper     map[string]float64
	Slots     []OptimizerSlot
}

// SaveOptimizerState serializes the state as a protobuf Struct blob.
func SaveOptimizerState(path string, st *OptimizerState) error {
	slots := make([]interface{}, len(st.Slots))
	for i, s := range st.Slots {
		shape := make([]interface{}, len(s.Shape))
		for j, d := range s.Shape {
			shape[j] = float64(d)
		}
		data := make([]interface{}, len(s.Data))
		for j, v := range s.Data {
			data[j] = float64(v)
		}
		slots[i] = map[string]interface{}{
			"name":  s.Name,
			"kind":  s.Kind,
			"shape": shape,
			"data":  data,
		}
	}
	hyper := make(map[string]interface{}, len(st.Hyper))
	for k, v := range st.Hyper {
		hyper[k] = v
	}
	msg, err := structpb.NewStruct(map[string]interface{}{
		"type":      st.Type,
		"iteration": float64(st.Iteration),
		"step":      float64(st.Step),
		"hyper":     hyper,
		"slots":     slots,
	})
	if err != nil {
		return errors.Wrap(err, "building optimizer state message")
	}
	raw, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshaling optimizer state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory for %s", path)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing optimizer state %s", path)
	}
	return nil
}

// LoadOptimizerState reads a protobuf optimizer state blob.
func LoadOptimizerState(path string) (*OptimizerState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading optimizer state %s", path)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling optimizer state %s", path)
	}
	m := msg.AsMap()

	st := &OptimizerState{Hyper: make(map[string]float64)}
	if v, ok := m["type"].(string); ok {
		st.Type = v
	}
	if v, ok := m["iteration"].(float64); ok {
		st.Iteration = int(v)
	}
	if v, ok := m["step"].(float64); ok {
		st.Step = int(v)
	}
	if hyper, ok := m["hyper"].(map[string]interface{}); ok {
		for k, v := range hyper {
			if f, ok := v.(float64); ok {
				st.Hyper[k] = f
			}
		}
	}
	slots, _ := m["slots"].([]interface{})
	for _, raw := range slots {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("malformed optimizer slot in %s", path)
		}
		var slot OptimizerSlot
		slot.Name, _ = entry["name"].(string)
		slot.Kind, _ = entry["kind"].(string)
		if shape, ok := entry["shape"].([]interface{}); ok {
			slot.Shape = make([]int, len(shape))
			for i, d := range shape {
				f, _ := d.(float64)
				slot.Shape[i] = int(f)
			}
		}
		if data, ok := entry["data"].([]interface{}); ok {
			slot.Data = make([]float32, len(data))
			for i, d := range data {
				f, _ := d.(float64)
				slot.Data[i] = float32(f)
			}
		}
		st.Slots = append(st.Slots, slot)
	}
	return st, nil
}
