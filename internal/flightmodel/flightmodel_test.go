package flightmodel

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-s2s/internal/model"
	"github.com/23skdu/longbow-s2s/internal/onehot"
)

const (
	testLatent = 4
	testVocab  = 5
)

// echoPair encodes to a state holding the input length and decodes by
// shifting the fed id by one.
func echoPair() Pair {
	enc := model.EncoderFunc(func(ctx context.Context, in *onehot.Tensor) (model.State, error) {
		h := make([]float32, testLatent)
		c := make([]float32, testLatent)
		h[0] = float32(in.Shape[1])
		c[0] = float32(in.Hot(0))
		return model.State{H: h, C: c}, nil
	})
	dec := model.DecoderFunc(func(ctx context.Context, in *onehot.Tensor, st model.State) ([]float32, model.State, error) {
		if in.Shape[2] != testVocab {
			return nil, st, errors.New("bad vocab")
		}
		probs := make([]float32, testVocab)
		probs[(in.Hot(0)+1)%testVocab] = 1
		next := st.Clone()
		next.H[1]++
		return probs, next, nil
	})
	return Pair{Encoder: enc, Decoder: dec, Info: Info{LatentDim: testLatent, EncoderTokens: 3, DecoderTokens: testVocab}}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer()
	srv.Register("echo", echoPair())
	if err := srv.Listen("localhost:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	return srv
}

func dialTest(t *testing.T, srv *Server, name string) *Client {
	t.Helper()
	c, err := Dial(ClientConfig{Addr: srv.Addr().String(), Model: name, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPing(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv, "echo")

	info, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	want := Info{LatentDim: testLatent, EncoderTokens: 3, DecoderTokens: testVocab}
	if info != want {
		t.Errorf("expected %+v, got %+v", want, info)
	}
}

func TestPingUnknownModel(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv, "missing")

	if _, err := c.Ping(context.Background()); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv, "echo")

	in := onehot.NewTensor(1, 2, 3)
	in.Set(0, 0, 2, 1)
	in.Set(0, 1, 0, 1)

	st, err := c.Encode(context.Background(), in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(st.H) != testLatent || len(st.C) != testLatent {
		t.Fatalf("expected %d-wide state, got %d/%d", testLatent, len(st.H), len(st.C))
	}
	if st.H[0] != 2 || st.C[0] != 2 {
		t.Errorf("unexpected state %v / %v", st.H, st.C)
	}
}

func TestStepRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv, "echo")

	st := model.State{H: make([]float32, testLatent), C: make([]float32, testLatent)}
	cur := 0
	for i := 1; i <= 3; i++ {
		probs, next, err := c.Step(context.Background(), onehot.Single(cur, testVocab), st)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if len(probs) != testVocab {
			t.Fatalf("expected %d probs, got %d", testVocab, len(probs))
		}
		if probs[(cur+1)%testVocab] != 1 {
			t.Errorf("step %d: unexpected distribution %v", i, probs)
		}
		if next.H[1] != float32(i) {
			t.Errorf("step %d: state not threaded, h=%v", i, next.H)
		}
		cur = (cur + 1) % testVocab
		st = next
	}
}

func TestStepReleasesStreams(t *testing.T) {
	srv := startServer(t)

	for _, timeout := range []time.Duration{0, 5 * time.Second} {
		t.Run(timeout.String(), func(t *testing.T) {
			c, err := Dial(ClientConfig{Addr: srv.Addr().String(), Model: "echo", Timeout: timeout})
			if err != nil {
				t.Fatalf("Dial failed: %v", err)
			}
			defer c.Close()

			st := model.State{H: make([]float32, testLatent), C: make([]float32, testLatent)}
			ctx := context.Background()
			// warm up the connection before counting
			if _, _, err := c.Step(ctx, onehot.Single(0, testVocab), st); err != nil {
				t.Fatal(err)
			}
			before := runtime.NumGoroutine()

			const steps = 100
			for i := 0; i < steps; i++ {
				if _, _, err := c.Step(ctx, onehot.Single(0, testVocab), st); err != nil {
					t.Fatalf("step %d failed: %v", i, err)
				}
			}

			var after int
			for i := 0; i < 50; i++ {
				after = runtime.NumGoroutine()
				if after-before < 20 {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			if after-before >= 20 {
				t.Errorf("expected goroutines to stay flat over %d steps, grew by %d", steps, after-before)
			}
		})
	}
}

func TestStepModelError(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv, "echo")

	st := model.State{H: make([]float32, testLatent), C: make([]float32, testLatent)}
	if _, _, err := c.Step(context.Background(), onehot.Single(0, 7), st); err == nil {
		t.Error("expected error from decoder")
	}
}

func TestDialValidation(t *testing.T) {
	if _, err := Dial(ClientConfig{Model: "x"}); err == nil {
		t.Error("expected error for missing address")
	}
	if _, err := Dial(ClientConfig{Addr: "localhost:1"}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestRecordCodec(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	in := onehot.NewTensor(1, 3, 2)
	in.Set(0, 2, 1, 1)
	rec := newRecord(mem, metadataFor(OpEncode, in.Shape), column{colInput, in.Data})
	defer rec.Release()

	got, err := tensorFrom(rec)
	if err != nil {
		t.Fatalf("tensorFrom failed: %v", err)
	}
	if got.Shape != in.Shape || got.Hot(2) != 1 || got.Hot(0) != -1 {
		t.Errorf("unexpected tensor %+v", got)
	}
	if _, err := listValues(rec, colProbs); err == nil {
		t.Error("expected error for missing column")
	}
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"1,2,3", false},
		{"1, 2, 3", false},
		{"1,2", true},
		{"1,0,3", true},
		{"a,b,c", true},
	}
	for _, tt := range tests {
		_, err := parseShape(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseShape(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
		}
	}
}
