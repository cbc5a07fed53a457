// Package replay drives batches of questions through the pipeline for training
// and calibration, and replays recorded calibration fixtures offline.
package replay

import (
	"bufio"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MinQuestionChars is the shortest question text kept by LoadQuestions.
const MinQuestionChars = 7

const questionPrefix = "question:"

// #region load-questions
// LoadQuestions collects "Question: ..." lines (prefix matched case-insensitively)
// from every *.txt file under dir. Questions shorter than MinQuestionChars are
// dropped. When rng is non-nil the list is shuffled before limit (> 0) applies.
func LoadQuestions(dir string, limit int, rng *rand.Rand) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".txt") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)

	var questions []string
	for _, path := range files {
		qs, err := questionsInFile(path)
		if err != nil {
			return nil, err
		}
		questions = append(questions, qs...)
	}

	if rng != nil {
		rng.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	return questions, nil
}

func questionsInFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if len(line) < len(questionPrefix) || !strings.EqualFold(line[:len(questionPrefix)], questionPrefix) {
			continue
		}
		q := strings.TrimSpace(line[len(questionPrefix):])
		if len([]rune(q)) >= MinQuestionChars {
			out = append(out, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// #endregion load-questions
