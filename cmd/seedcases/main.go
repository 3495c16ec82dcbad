// Command seedcases loads case definition JSON files from a directory
// into the cases collection, upserting by case id so it can be re-run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinsim/virtual-patient-api/models"
)

func main() {
	dir := flag.String("dir", "cases", "directory of case JSON files")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("MONGODB_URI")))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Disconnect(context.Background())

	collection := client.Database(os.Getenv("DATABASE_NAME")).Collection("cases")

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatal(err)
	}

	var seeded, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(*dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("skipping %s: %v", entry.Name(), err)
			failed++
			continue
		}

		var caseData models.Case
		if err := json.Unmarshal(raw, &caseData); err != nil {
			log.Printf("skipping %s: invalid JSON: %v", entry.Name(), err)
			failed++
			continue
		}
		if caseData.CaseMetadata.CaseID == "" {
			log.Printf("skipping %s: missing case_metadata.case_id", entry.Name())
			failed++
			continue
		}

		caseData.UpdatedAt = time.Now()
		_, err = collection.UpdateOne(ctx,
			bson.M{"case_metadata.case_id": caseData.CaseMetadata.CaseID},
			bson.M{
				"$set":         caseDocument(caseData),
				"$setOnInsert": bson.M{"createdAt": time.Now()},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			log.Printf("cannot upsert %s: %v", caseData.CaseMetadata.CaseID, err)
			failed++
			continue
		}
		seeded++
	}

	log.Printf("seeded %d cases, %d failures", seeded, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// caseDocument strips the _id and createdAt fields so the upsert does
// not clash with existing documents.
func caseDocument(c models.Case) bson.M {
	return bson.M{
		"version":             c.Version,
		"description":         c.Description,
		"system_instruction":  c.SystemInstruction,
		"case_metadata":       c.CaseMetadata,
		"patient_persona":     c.PatientPersona,
		"initial_prompt":      c.InitialPrompt,
		"clinical_dossier":    c.ClinicalDossier,
		"evaluation_criteria": c.EvaluationCriteria,
		"updatedAt":           c.UpdatedAt,
	}
}
