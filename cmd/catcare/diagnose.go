package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"catcare.com/client/diagnosis"
	"catcare.com/client/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type diagnoseReport struct {
	Diagnosis  *diagnosis.Diagnosis      `yaml:"diagnosis"`
	Category   *diagnosis.Category       `yaml:"category,omitempty"`
	Attributes []diagnosis.Attribute     `yaml:"attributes,omitempty"`
	Detailed   *diagnosis.DetailedResult `yaml:"detailed,omitempty"`
}

type answersFile struct {
	Answers []diagnosis.Answer `yaml:"answers"`
}

func newDiagnoseCmd(get func() *app) *cobra.Command {
	var imageURL, imageFile, answersPath string
	var directS3 bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run a full eye diagnosis",
		Long: `Submit an eye image, wait for its category and, when an answers file is
given, submit the detailed questionnaire.

Without --answers the attribute questions are printed so that an answers
file can be written:

  answers:
    - attribute_id: 1
      response: watery discharge`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			if (imageURL == "") == (imageFile == "") {
				return errors.New("exactly one of --image-url and --image-file is required")
			}
			var answers []diagnosis.Answer
			if answersPath != "" {
				loaded, err := loadAnswers(answersPath)
				if err != nil {
					return err
				}
				answers = loaded
			}

			if imageFile != "" {
				uploaded, err := upload(cmd, a, imageFile, directS3)
				if err != nil {
					return err
				}
				imageURL = uploaded
			}

			result, err := a.diagnosis.SubmitImage(ctx, imageURL)
			if err != nil {
				return err
			}
			report := diagnoseReport{Diagnosis: result}
			if result.IsNormal {
				return a.print(report)
			}

			category, err := a.poll(ctx, result.ID)
			if err != nil {
				return err
			}
			report.Category = category

			attributes, err := a.diagnosis.FetchAttributes(ctx, result.ID)
			if err != nil {
				return err
			}
			report.Attributes = attributes

			if len(answers) > 0 {
				detailed, err := a.diagnosis.SubmitDetailed(ctx, result.ID, answers)
				if err != nil {
					return err
				}
				report.Detailed = detailed
			}
			return a.print(report)
		},
	}
	cmd.Flags().StringVar(&imageURL, "image-url", "", "url of an already uploaded image")
	cmd.Flags().StringVar(&imageFile, "image-file", "", "local image to upload first")
	cmd.Flags().BoolVar(&directS3, "s3", false, "upload straight to the bucket from $CATCARE_S3_* instead of a presigned url")
	cmd.Flags().StringVarP(&answersPath, "answers", "a", "", "yaml file with answers to the attribute questions")
	return cmd
}

func upload(cmd *cobra.Command, a *app, path string, directS3 bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var uploader storage.Uploader = storage.NewPresignedUploader(a.api, storage.WithCategory("eye"))
	if directS3 {
		s3Config, err := storage.ReadS3Config()
		if err != nil {
			return "", err
		}
		uploader, err = storage.NewS3Uploader(s3Config)
		if err != nil {
			return "", err
		}
	}
	return uploader.Upload(cmd.Context(), filepath.Base(path), "", f)
}

func loadAnswers(path string) ([]diagnosis.Answer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file answersFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Answers) == 0 {
		return nil, fmt.Errorf("%s has no answers", path)
	}
	return file.Answers, nil
}
