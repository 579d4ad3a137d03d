// Package knowledge provides the durable prompt→response store behind the
// resolution pipeline. Knowledge lives in three partitions: general (seeded
// from a static file), learned (created through the confirm-save workflow)
// and the self-description keyword table. Each entry may carry an embedding
// vector; absent embeddings are valid and backfilled lazily.
//
// Persistence is one JSON state document written atomically (temp file, then
// rename) so concurrent readers never observe a partial write. A corrupt
// state file is quarantined on load and the store starts empty instead of
// failing process startup.
package knowledge

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/hearth/pkg/types"
)

// Default file names inside the store's data directory.
const (
	StateFileName    = "network_state.json"
	SeedFileName     = "default_knowledge.json"
	KeywordsFileName = "keywords.json"
)

// DefaultAssistantName is used until a user renames the assistant.
const DefaultAssistantName = "Neo"

// Store is the process-wide knowledge store. All mutation and persistence is
// serialized behind a single writer lock; reads take the read lock against
// the last-committed in-memory state.
type Store struct {
	dataPath string

	mu sync.RWMutex

	general           map[string]string
	generalEmbeddings map[string][]float64
	learned           map[string]string
	learnedEmbeddings map[string][]float64

	selfDescription   map[string]string // normalized keyword → response template
	keywordEmbeddings map[string][]float64
	outOfScope        []string

	assistantName string
	userName      string
}

// stateDocument is the persisted JSON layout. Embeddings round-trip as plain
// numeric arrays.
type stateDocument struct {
	GeneralKnowledge           map[string]string    `json:"general_knowledge"`
	GeneralKnowledgeEmbeddings map[string][]float64 `json:"general_knowledge_embeddings"`
	LearnedResponses           map[string]string    `json:"learned_responses"`
	LearnedResponsesEmbeddings map[string][]float64 `json:"learned_responses_embeddings"`
	KeywordEmbeddings          map[string][]float64 `json:"self_description_embeddings"`
	AssistantName              string               `json:"ai_name"`
	UserName                   string               `json:"user_name,omitempty"`
}

// seedDocument is the static general-knowledge seed file layout.
type seedDocument struct {
	GeneralKnowledge []struct {
		Prompt   string `json:"prompt"`
		Response string `json:"response"`
	} `json:"general_knowledge"`
}

// keywordsDocument is the keywords file layout.
type keywordsDocument struct {
	SelfDescriptionKeywords map[string]string `json:"self_description_keywords"`
	OutOfScopeKeywords      []string          `json:"out_of_scope_keywords"`
}

// NewStore creates a store rooted at dataPath and loads its persisted state,
// seed knowledge and keyword tables. The data directory is created when
// missing.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("knowledge: failed to create data directory %s: %w", dataPath, err)
	}

	s := &Store{
		dataPath:          dataPath,
		general:           make(map[string]string),
		generalEmbeddings: make(map[string][]float64),
		learned:           make(map[string]string),
		learnedEmbeddings: make(map[string][]float64),
		selfDescription:   make(map[string]string),
		keywordEmbeddings: make(map[string][]float64),
		assistantName:     DefaultAssistantName,
	}

	s.loadKeywords()
	s.loadState()
	s.loadSeeds()
	return s, nil
}

// GetExact looks up an exact normalized prompt, checking the learned
// partition first, then general.
func (s *Store) GetExact(normalizedPrompt string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if resp, ok := s.learned[normalizedPrompt]; ok {
		return resp, true
	}
	if resp, ok := s.general[normalizedPrompt]; ok {
		return resp, true
	}
	return "", false
}

// UpsertLearned inserts or overwrites a learned entry and persists the store
// atomically. A nil embedding is stored as absent, to be backfilled later.
func (s *Store) UpsertLearned(normalizedPrompt, response string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned[normalizedPrompt] = response
	if embedding != nil {
		s.learnedEmbeddings[normalizedPrompt] = embedding
	}
	return s.persistLocked()
}

// SetGeneralEmbedding backfills the embedding for a seeded general entry.
// Unknown prompts are ignored.
func (s *Store) SetGeneralEmbedding(normalizedPrompt string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.general[normalizedPrompt]; !ok {
		return nil
	}
	s.generalEmbeddings[normalizedPrompt] = embedding
	return s.persistLocked()
}

// SetKeywordEmbedding backfills the embedding for a self-description keyword.
func (s *Store) SetKeywordEmbedding(keyword string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selfDescription[keyword]; !ok {
		return nil
	}
	s.keywordEmbeddings[keyword] = embedding
	return s.persistLocked()
}

// FindSimilar computes cosine similarity between query and every stored
// embedding in the selected partitions, returning matches with
// score ≥ threshold sorted descending and truncated to topK. An absent or
// zero-norm query yields an empty result.
func (s *Store) FindSimilar(query []float64, partitions types.Partition, topK int, threshold float64) []types.SimilarityMatch {
	if len(query) == 0 || vectorNorm(query) == 0 || topK <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []types.SimilarityMatch
	scan := func(embeddings map[string][]float64, responses map[string]string) {
		for prompt, emb := range embeddings {
			resp, ok := responses[prompt]
			if !ok {
				continue
			}
			if score := cosineSimilarity(query, emb); score >= threshold {
				matches = append(matches, types.SimilarityMatch{Response: resp, Score: score})
			}
		}
	}

	if partitions&types.PartitionKeywords != 0 {
		scan(s.keywordEmbeddings, s.selfDescription)
	}
	if partitions&types.PartitionGeneral != 0 {
		scan(s.generalEmbeddings, s.general)
	}
	if partitions&types.PartitionLearned != 0 {
		scan(s.learnedEmbeddings, s.learned)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// MissingEmbeddings returns up to limit prompts from the general and keyword
// partitions that still lack an embedding, for lazy backfill.
func (s *Store) MissingEmbeddings(limit int) (general, keywords []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for prompt := range s.general {
		if len(general) >= limit {
			break
		}
		if _, ok := s.generalEmbeddings[prompt]; !ok {
			general = append(general, prompt)
		}
	}
	for kw := range s.selfDescription {
		if len(keywords) >= limit {
			break
		}
		if _, ok := s.keywordEmbeddings[kw]; !ok {
			keywords = append(keywords, kw)
		}
	}
	return general, keywords
}

// KeywordResponse returns the self-description response whose keyword is
// contained in the normalized prompt. Longer keywords are preferred so
// "red neuronal" beats "red".
func (s *Store) KeywordResponse(normalizedPrompt string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := ""
	for kw := range s.selfDescription {
		if strings.Contains(normalizedPrompt, kw) && len(kw) > len(best) {
			best = kw
		}
	}
	if best == "" {
		return "", false
	}
	return s.selfDescription[best], true
}

// IsOutOfScope reports whether the normalized prompt contains any
// out-of-scope keyword.
func (s *Store) IsOutOfScope(normalizedPrompt string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, kw := range s.outOfScope {
		if strings.Contains(normalizedPrompt, kw) {
			return true
		}
	}
	return false
}

// AssistantName returns the persisted assistant display name.
func (s *Store) AssistantName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistantName
}

// SetAssistantName renames the assistant and persists the store.
func (s *Store) SetAssistantName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantName = name
	return s.persistLocked()
}

// UserName returns the remembered user name, if any.
func (s *Store) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

// SetUserName remembers the user's name and persists the store.
func (s *Store) SetUserName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userName = name
	return s.persistLocked()
}

// GeneralCount returns the number of general entries.
func (s *Store) GeneralCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.general)
}

// LearnedCount returns the number of learned entries.
func (s *Store) LearnedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.learned)
}

// ClearAll wipes every partition and embedding, resets the assistant name and
// reloads the seed and keyword files, then persists the empty state.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	s.general = make(map[string]string)
	s.generalEmbeddings = make(map[string][]float64)
	s.learned = make(map[string]string)
	s.learnedEmbeddings = make(map[string][]float64)
	s.keywordEmbeddings = make(map[string][]float64)
	s.assistantName = DefaultAssistantName
	s.userName = ""
	err := s.persistLocked()
	s.mu.Unlock()

	s.loadKeywords()
	s.loadSeeds()
	return err
}

// Persist writes the current state atomically.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked writes the state document to a temp file in the same
// directory and renames it over the state file. Callers hold the write lock.
func (s *Store) persistLocked() error {
	doc := stateDocument{
		GeneralKnowledge:           s.general,
		GeneralKnowledgeEmbeddings: s.generalEmbeddings,
		LearnedResponses:           s.learned,
		LearnedResponsesEmbeddings: s.learnedEmbeddings,
		KeywordEmbeddings:          s.keywordEmbeddings,
		AssistantName:              s.assistantName,
		UserName:                   s.userName,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: failed to encode state: %w", err)
	}

	statePath := filepath.Join(s.dataPath, StateFileName)
	tmp, err := os.CreateTemp(s.dataPath, StateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("knowledge: failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("knowledge: failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("knowledge: failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, statePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("knowledge: failed to commit state file: %w", err)
	}
	return nil
}

// loadState reads the persisted state document. A decode failure quarantines
// the corrupt file with a timestamped .bak suffix and leaves the store empty;
// startup continues either way.
func (s *Store) loadState() {
	statePath := filepath.Join(s.dataPath, StateFileName)
	data, err := os.ReadFile(statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read state file %s: %v", statePath, err)
		}
		return
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		quarantine := fmt.Sprintf("%s.%s.bak", statePath, time.Now().Format("20060102-150405"))
		if renameErr := os.Rename(statePath, quarantine); renameErr != nil {
			log.Printf("Warning: corrupt state file %s could not be quarantined: %v", statePath, renameErr)
		} else {
			log.Printf("Warning: corrupt state file quarantined as %s: %v", quarantine, err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.GeneralKnowledge != nil {
		s.general = doc.GeneralKnowledge
	}
	if doc.GeneralKnowledgeEmbeddings != nil {
		s.generalEmbeddings = doc.GeneralKnowledgeEmbeddings
	}
	if doc.LearnedResponses != nil {
		s.learned = doc.LearnedResponses
	}
	if doc.LearnedResponsesEmbeddings != nil {
		s.learnedEmbeddings = doc.LearnedResponsesEmbeddings
	}
	if doc.KeywordEmbeddings != nil {
		s.keywordEmbeddings = doc.KeywordEmbeddings
	}
	if doc.AssistantName != "" {
		s.assistantName = doc.AssistantName
	}
	s.userName = doc.UserName

	log.Printf("Knowledge state loaded: %d general (%d with embeddings), %d learned (%d with embeddings)",
		len(s.general), len(s.generalEmbeddings), len(s.learned), len(s.learnedEmbeddings))
}

// loadSeeds merges the static seed file into the general partition without
// overwriting entries already present.
func (s *Store) loadSeeds() {
	seedPath := filepath.Join(s.dataPath, SeedFileName)
	data, err := os.ReadFile(seedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read seed file %s: %v", seedPath, err)
		}
		return
	}

	var doc seedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("Warning: seed file %s is not valid JSON: %v", seedPath, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, item := range doc.GeneralKnowledge {
		prompt := Normalize(item.Prompt)
		if prompt == "" || item.Response == "" {
			continue
		}
		if _, ok := s.general[prompt]; !ok {
			s.general[prompt] = item.Response
			added++
		}
	}
	if added > 0 {
		log.Printf("Seeded %d general knowledge entries from %s", added, seedPath)
	}
}

// loadKeywords reads the self-description keyword table and out-of-scope
// list. A missing file leaves both empty.
func (s *Store) loadKeywords() {
	kwPath := filepath.Join(s.dataPath, KeywordsFileName)
	data, err := os.ReadFile(kwPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read keywords file %s: %v", kwPath, err)
		}
		return
	}

	var doc keywordsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("Warning: keywords file %s is not valid JSON: %v", kwPath, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfDescription = make(map[string]string, len(doc.SelfDescriptionKeywords))
	for kw, resp := range doc.SelfDescriptionKeywords {
		s.selfDescription[Normalize(kw)] = resp
	}
	s.outOfScope = s.outOfScope[:0]
	for _, kw := range doc.OutOfScopeKeywords {
		s.outOfScope = append(s.outOfScope, Normalize(kw))
	}
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or empty vectors score zero.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
