package embedding

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// MaxSequenceLength is the maximum token sequence length for the local model.
const MaxSequenceLength = 256

// LocalConfig configures the local ONNX sentence-encoder backend.
type LocalConfig struct {
	// ModelPath is the path to the ONNX model file (MiniLM-class encoder).
	ModelPath string
	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string
	// ONNXLibPath optionally points at the onnxruntime shared library.
	ONNXLibPath string
	// Dimensions is the model's hidden size (384 for all-MiniLM-L6-v2).
	Dimensions int
}

// localBackend runs a MiniLM-class sentence encoder through onnxruntime with
// mean pooling. The model is loaded lazily on first use and reused for the
// process lifetime; it is stateless after load.
type localBackend struct {
	cfg LocalConfig

	loadOnce sync.Once
	loadErr  error
	tk       *tokenizer.Tokenizer
	session  *ort.DynamicAdvancedSession

	mu sync.Mutex
}

var _ Backend = (*localBackend)(nil)

var localInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}
var localOutputNames = []string{"last_hidden_state"}

// NewLocal creates the local ONNX backend. Model files are not touched until
// the first Embed call.
func NewLocal(cfg LocalConfig) Backend {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	return &localBackend{cfg: cfg}
}

func (b *localBackend) Name() string    { return "local" }
func (b *localBackend) Dimensions() int { return b.cfg.Dimensions }

// load initializes the ONNX runtime, tokenizer, and inference session.
func (b *localBackend) load() error {
	b.loadOnce.Do(func() {
		if b.cfg.ONNXLibPath != "" {
			ort.SetSharedLibraryPath(b.cfg.ONNXLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			b.loadErr = fmt.Errorf("initialize ONNX runtime: %w", err)
			return
		}

		tkData, err := os.ReadFile(b.cfg.TokenizerPath)
		if err != nil {
			b.loadErr = fmt.Errorf("read tokenizer %s: %w", b.cfg.TokenizerPath, err)
			return
		}
		tk, err := pretrained.FromReader(bytes.NewReader(tkData))
		if err != nil {
			b.loadErr = fmt.Errorf("load tokenizer: %w", err)
			return
		}

		session, err := ort.NewDynamicAdvancedSession(b.cfg.ModelPath, localInputNames, localOutputNames, nil)
		if err != nil {
			b.loadErr = fmt.Errorf("create ONNX session for %s: %w", b.cfg.ModelPath, err)
			return
		}

		b.tk = tk
		b.session = session
	})
	return b.loadErr
}

func (b *localBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (b *localBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.computeBatch(texts)
}

// computeBatch runs inference on a batch of texts. Must be called with lock held.
func (b *localBackend) computeBatch(sentences []string) ([][]float32, error) {
	inputBatch := make([]tokenizer.EncodeInput, len(sentences))
	for i, sent := range sentences {
		inputBatch[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(sent))
	}

	encodings, err := b.tk.EncodeBatch(inputBatch, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	batchSize := len(encodings)
	hiddenSize := b.cfg.Dimensions

	// Pad to the longest encoding in the batch, capped at the model limit.
	seqLength := 0
	for _, enc := range encodings {
		if len(enc.Ids) > seqLength {
			seqLength = len(enc.Ids)
		}
	}
	if seqLength > MaxSequenceLength {
		seqLength = MaxSequenceLength
	}
	if seqLength == 0 {
		seqLength = 1
	}

	inputShape := ort.NewShape(int64(batchSize), int64(seqLength))

	inputIDs := make([]int64, batchSize*seqLength)
	attentionMask := make([]int64, batchSize*seqLength)
	tokenTypeIDs := make([]int64, batchSize*seqLength)

	for i := 0; i < batchSize; i++ {
		copyInt64(inputIDs[i*seqLength:(i+1)*seqLength], encodings[i].Ids)
		copyInt64(attentionMask[i*seqLength:(i+1)*seqLength], encodings[i].AttentionMask)
		copyInt64(tokenTypeIDs[i*seqLength:(i+1)*seqLength], encodings[i].TypeIds)
	}

	inputIDsTensor, err := ort.NewTensor(inputShape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(inputShape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(inputShape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDsTensor.Destroy()

	outputShape := ort.NewShape(int64(batchSize), int64(seqLength), int64(hiddenSize))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	inputs := []ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}
	outputs := []ort.Value{outputTensor}
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	return meanPooling(outputTensor.GetData(), attentionMask, batchSize, seqLength, hiddenSize), nil
}

// copyInt64 copies up to len(dst) token values, leaving padding as zero.
func copyInt64(dst []int64, src []int) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int64(src[i])
	}
}

// meanPooling averages token embeddings weighted by the attention mask.
// Input shape: [batch, seq_len, hidden]; output shape: [batch, hidden].
func meanPooling(embeddings []float32, attentionMask []int64, batchSize, seqLen, hiddenSize int) [][]float32 {
	results := make([][]float32, batchSize)
	for b := 0; b < batchSize; b++ {
		result := make([]float32, hiddenSize)
		var maskSum float32

		for s := 0; s < seqLen; s++ {
			maskVal := float32(attentionMask[b*seqLen+s])
			maskSum += maskVal
			if maskVal > 0 {
				offset := (b*seqLen + s) * hiddenSize
				for h := 0; h < hiddenSize; h++ {
					result[h] += embeddings[offset+h] * maskVal
				}
			}
		}

		if maskSum > 0 {
			for h := 0; h < hiddenSize; h++ {
				result[h] /= maskSum
			}
		}
		results[b] = result
	}
	return results
}

func (b *localBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}

	var errs []error
	if err := b.session.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("destroy session: %w", err))
	}
	b.session = nil

	if err := ort.DestroyEnvironment(); err != nil {
		errs = append(errs, fmt.Errorf("destroy environment: %w", err))
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
