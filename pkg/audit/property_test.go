package audit

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return propNow }

func keysWithAges(ages []int) []resource.Record {
	records := make([]resource.Record, len(ages))
	for i, age := range ages {
		records[i] = resource.Record{
			Vendor:    "test",
			Kind:      resource.KindAPIKeys,
			ID:        fmt.Sprintf("id-%d", i),
			Name:      fmt.Sprintf("key-%d", i),
			CreatedAt: resource.TimePtr(propNow.Add(-time.Duration(age) * 24 * time.Hour)),
		}
	}
	return records
}

func collect(records []resource.Record, preds []Predicate) []Issue {
	var out []Issue
	for i := range Filter(records, preds) {
		out = append(out, i)
	}
	return out
}

func genAges() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 400))
}

func TestProperty_OneAgeIssuePerOldRecord(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every record older than the threshold yields exactly one age issue naming it", prop.ForAll(
		func(ages []int, threshold int) bool {
			records := keysWithAges(ages)
			issues := collect(records, []Predicate{MaxAge(threshold, fixedClock)})

			perRecord := map[string]int{}
			for _, is := range issues {
				perRecord[is.Subject]++
			}
			for i, age := range ages {
				name := records[i].Name
				want := 0
				if age > threshold {
					want = 1
				}
				if perRecord[name] != want {
					return false
				}
			}
			return len(issues) == len(perRecord)
		},
		genAges(),
		gen.IntRange(0, 365),
	))

	properties.TestingRun(t)
}

func TestProperty_IssuesBoundedAndUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("issues never exceed records x predicates and never repeat a pair", prop.ForAll(
		func(ages []int, threshold int, usedMask []bool) bool {
			records := keysWithAges(ages)
			for i := range records {
				if i < len(usedMask) && usedMask[i] {
					records[i].LastUsed = resource.TimePtr(propNow)
				}
			}
			preds := []Predicate{
				MaxAge(threshold, fixedClock),
				NeverUsed(""),
				MissingScopes(""),
				DangerousScopes([]string{"admin"}),
			}
			issues := collect(records, preds)
			if len(issues) > len(records)*len(preds) {
				return false
			}
			seen := map[string]bool{}
			for _, is := range issues {
				k := is.RecordID + "|" + is.Rule
				if seen[k] {
					return false
				}
				seen[k] = true
			}
			return true
		},
		genAges(),
		gen.IntRange(0, 365),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestProperty_ReporterLineCountMatchesIssues(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("line reporter emits one line per issue", prop.ForAll(
		func(ages []int, threshold int) bool {
			records := keysWithAges(ages)
			preds := []Predicate{MaxAge(threshold, fixedClock), NeverUsed("")}
			expected := len(collect(records, preds))

			var buf bytes.Buffer
			n, err := NewLineReporter(&buf).Report(Filter(records, preds))
			if err != nil || n != expected {
				return false
			}
			lines := strings.Count(buf.String(), "\n")
			return lines == expected
		},
		genAges(),
		gen.IntRange(0, 365),
	))

	properties.TestingRun(t)
}

func TestProperty_CountByReportsOnlyGroupsAboveThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("count-by emits one issue per group over the threshold", prop.ForAll(
		func(clients []int, threshold int) bool {
			records := make([]resource.Record, len(clients))
			want := map[string]int{}
			for i, c := range clients {
				key := fmt.Sprintf("client-%d", c)
				records[i] = resource.Record{ID: fmt.Sprint(i), Attributes: map[string]any{"client_id": key}}
				want[key]++
			}
			agg := CountBy{ID: "volume", Key: AttrKey("client_id"), Threshold: threshold}
			issues := agg.Aggregate(records)

			over := 0
			for _, n := range want {
				if n > threshold {
					over++
				}
			}
			if len(issues) != over {
				return false
			}
			for _, is := range issues {
				if want[is.Subject] <= threshold {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4)),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
