// ABOUTME: Derives a backup-verification quiz from a mnemonic word sequence.
// ABOUTME: Pure generation, CSPRNG-sampled, re-sampled independently on retry.
package custody

import (
	"crypto/rand"
	"math/big"
)

const (
	// QuizQuestions is the fixed number of challenges per quiz instance.
	QuizQuestions = 2
	// QuizOptions is the fixed option-set size per question.
	QuizOptions = 4
	// quizMinWords is a defensive floor below which no quiz is generated.
	quizMinWords = 12
)

// QuizQuestion asks which word occupies a 1-indexed slot of the mnemonic.
// Options contains exactly one match for CorrectWord; decoys come only from
// the same mnemonic so the quiz leaks nothing about valid wordlists.
type QuizQuestion struct {
	Position    int
	CorrectWord string
	Options     []string
}

// GenerateQuiz builds QuizQuestions challenges over distinct positions of
// words. Returns an empty slice for inputs shorter than the defensive floor.
// Every call samples independently; callers regenerating after a failed
// attempt get a fresh question set, never the prior one.
func GenerateQuiz(words []string) ([]QuizQuestion, error) {
	if len(words) < quizMinWords {
		return nil, nil
	}

	positions, err := samplePositions(len(words), QuizQuestions)
	if err != nil {
		return nil, err
	}

	questions := make([]QuizQuestion, 0, QuizQuestions)
	for _, pos := range positions {
		correct := words[pos]
		decoys, err := sampleDecoys(words, pos, QuizOptions-1)
		if err != nil {
			return nil, err
		}
		if len(decoys) < QuizOptions-1 {
			// Degenerate wordlist with too few distinct words.
			return nil, nil
		}
		options := append(decoys, correct)
		if err := shuffle(options); err != nil {
			return nil, err
		}
		questions = append(questions, QuizQuestion{
			Position:    pos + 1,
			CorrectWord: correct,
			Options:     options,
		})
	}
	return questions, nil
}

// samplePositions picks count distinct 0-indexed slots uniformly without
// replacement.
func samplePositions(n, count int) ([]int, error) {
	picked := make([]int, 0, count)
	for len(picked) < count {
		i, err := randIntn(n)
		if err != nil {
			return nil, err
		}
		dup := false
		for _, p := range picked {
			if p == i {
				dup = true
				break
			}
		}
		if !dup {
			picked = append(picked, i)
		}
	}
	return picked, nil
}

// sampleDecoys draws count distinct words from the list, excluding the slot
// under test and any word equal to it. Mnemonics may repeat a word, so
// distinctness is by string value, keeping the option set free of duplicates.
func sampleDecoys(words []string, exclude, count int) ([]string, error) {
	correct := words[exclude]
	seen := make(map[string]struct{}, len(words))
	pool := make([]string, 0, len(words)-1)
	for i, w := range words {
		if i == exclude || w == correct {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		pool = append(pool, w)
	}
	if len(pool) < count {
		return nil, nil
	}
	if err := shuffle(pool); err != nil {
		return nil, err
	}
	return append([]string(nil), pool[:count]...), nil
}

// shuffle applies a uniform Fisher-Yates permutation.
func shuffle(s []string) error {
	for i := len(s) - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return err
		}
		s[i], s[j] = s[j], s[i]
	}
	return nil
}

func randIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
