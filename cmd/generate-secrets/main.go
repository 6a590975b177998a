package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/travelcore/booking-core/internal/utils"
)

func main() {
	var (
		envFile string
		force   bool
	)
	flag.StringVar(&envFile, "env-file", ".env", "env file to check for secrets that are already set")
	flag.BoolVar(&force, "force", false, "generate every secret, even ones already set")
	flag.Parse()

	existing, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to read %s: %v", envFile, err)
	}

	generated, err := utils.GenerateServiceSecrets(utils.ServiceSecrets, existing, force)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	if len(generated) == 0 {
		fmt.Printf("All secrets are already set in %s (use -force to rotate them)\n", envFile)
		return
	}

	for _, spec := range utils.ServiceSecrets {
		if _, ok := generated[spec.EnvVar]; ok {
			fmt.Printf("# %s: %s\n", spec.EnvVar, spec.Purpose)
		}
	}

	out, err := godotenv.Marshal(generated)
	if err != nil {
		log.Fatalf("Failed to format secrets: %v", err)
	}
	fmt.Println(out)
	fmt.Println()
	fmt.Println("# Keep these out of version control.")
}
