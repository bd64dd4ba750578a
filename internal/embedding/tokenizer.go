package embedding

import (
	"hash/fnv"

	"github.com/hyperjump/atsume/pkg/utils"
)

// BERT special token ids and vocabulary size.
const (
	tokenCLS  = 101
	tokenSEP  = 102
	vocabSize = 30522
	firstWord = 1000
)

// Tokenizer produces BERT-style model inputs.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer hashes lowercase words into the vocabulary range. It is a stand-in
// for a real WordPiece vocabulary: stable across runs, but ids carry no meaning.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] words... [SEP] padded with zeros to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 2
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0], attentionMask[0] = tokenCLS, 1
	pos := 1
	for _, w := range utils.Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(w)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos], attentionMask[pos] = tokenSEP, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func wordID(w string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(w))
	return int64(firstWord + h.Sum32()%(vocabSize-firstWord))
}
