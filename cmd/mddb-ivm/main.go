// Command mddb-ivm is a one-shot demo: load a JSON document-array
// fixture, decode a Plan (pipeline + presentation hint), run it
// through the engine, and print the materialized result. Grounded on
// the teacher's main.go bootstrap idiom (services/mddbd/main.go): a
// plain os.Getenv-backed env() helper, no flag/viper config framework,
// log.Fatal on startup failure.
package main

import (
	"log"
	"os"

	json "github.com/goccy/go-json"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/operator"
	"mddb-ivm/planexec"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	fixturePath := env("MDDB_IVM_FIXTURE", "fixture.json")
	planPath := env("MDDB_IVM_PLAN", "plan.json")

	docs, err := loadFixture(fixturePath)
	if err != nil {
		log.Fatalf("mddb-ivm: loading fixture %s: %v", fixturePath, err)
	}

	planRaw, err := os.ReadFile(planPath)
	if err != nil {
		log.Fatalf("mddb-ivm: reading plan %s: %v", planPath, err)
	}
	plan, err := planexec.DecodePlan(planRaw)
	if err != nil {
		log.Fatalf("mddb-ivm: decoding plan: %v", err)
	}

	schema := inferSchema(docs)
	result, err := planexec.Execute(plan, docs, schema, nil)
	if err != nil {
		log.Fatalf("mddb-ivm: executing plan %s: %v", plan.ID, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("mddb-ivm: marshaling result: %v", err)
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}

func loadFixture(path string) ([]*document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []*document.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// inferSchema builds the field set the compiler's eligibility checks
// need from the fixture itself, standing in for the schema a real
// embedding caller would already know from its own collection
// metadata.
func inferSchema(docs []*document.Document) operator.Schema {
	seen := make(map[string]bool)
	var fields []operator.FieldInfo
	for _, d := range docs {
		d.Range(func(k string, _ document.Value) bool {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, operator.FieldInfo{Name: k, Kind: batch.KindAny})
			}
			return true
		})
	}
	return operator.Schema{Fields: fields}
}
