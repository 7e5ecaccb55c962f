package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/util"
)

func decodeRequest(t *testing.T, r *http.Request) map[string]Tensor {
	t.Helper()
	var req inferRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	byName := make(map[string]Tensor)
	for _, in := range req.Inputs {
		byName[in.Name] = in
	}
	return byName
}

func writeOutput(t *testing.T, w http.ResponseWriter, name, datatype string, data any) {
	t.Helper()
	tensor, err := NewTensor(name, datatype, []int{1}, data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(inferResponse{Outputs: []Tensor{tensor}}))
}

func TestClient_Ready(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/health/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL+"/", time.Second).Ready(context.Background()))
}

func TestClient_ReadyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Ready(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrInference))
}

func TestRecognizer_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/"+DefaultASRModel+"/infer", r.URL.Path)
		inputs := decodeRequest(t, r)
		var samples []float32
		require.NoError(t, json.Unmarshal(inputs[asrInput].Data, &samples))
		writeOutput(t, w, asrOutput, "BYTES", []string{strings.Repeat("a", len(samples))})
	}))
	defer srv.Close()

	rec := NewRecognizer(NewClient(srv.URL, time.Second), "")
	texts, err := rec.Recognize(context.Background(), []Audio{
		{Samples: []float32{1, 2}, SampleRate: ASRSampleRate},
		{Samples: []float32{1, 2, 3}, SampleRate: ASRSampleRate},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "aaa"}, texts)
}

func TestRecognizer_ErrorFailsBatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(inferResponse{Error: "bad input"})
	}))
	defer srv.Close()

	rec := NewRecognizer(NewClient(srv.URL, time.Second), "")
	_, err := rec.Recognize(context.Background(), []Audio{{Samples: []float32{1}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrInference))
	assert.Contains(t, err.Error(), "bad input")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecognizer_MissingOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOutput(t, w, "something_else", "BYTES", []string{"x"})
	}))
	defer srv.Close()

	_, err := NewRecognizer(NewClient(srv.URL, time.Second), "").
		Recognize(context.Background(), []Audio{{Samples: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), asrOutput)
}

func TestEnhancer_Enhance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/models/"+DefaultEnhancerModel+"/infer", r.URL.Path)
		inputs := decodeRequest(t, r)
		for _, name := range []string{enhInput, enhSampleRate, enhChunkDuration, enhChunkOverlap} {
			assert.Contains(t, inputs, name)
		}
		assert.Equal(t, "INT64", inputs[enhSampleRate].Datatype)

		var rate []int
		require.NoError(t, json.Unmarshal(inputs[enhSampleRate].Data, &rate))
		assert.Equal(t, []int{22050}, rate)

		var chunk []float32
		require.NoError(t, json.Unmarshal(inputs[enhChunkDuration].Data, &chunk))
		assert.Equal(t, []float32{30}, chunk)

		writeOutput(t, w, enhOutput, "FP32", []float32{0.5, -0.5})
	}))
	defer srv.Close()

	enh := NewEnhancer(NewClient(srv.URL, time.Second), "", 30, 1)
	out, err := enh.Enhance(context.Background(), []Audio{{Samples: []float32{100, -100}, SampleRate: 22050}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{0.5, -0.5}, out[0])
}
