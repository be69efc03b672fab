// Package diagnosis wraps the four diagnosis steps of the backend.
package diagnosis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"catcare.com/client/apiclient"
	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

type requester interface {
	Send(ctx context.Context, req apiclient.Request) (*apiclient.Envelope, error)
	Do(ctx context.Context, req apiclient.Request, out interface{}) error
}

type Client struct {
	api             requester
	diagnosisLogger zerolog.Logger
}

func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api, diagnosisLogger: logger.NewLogger("Diagnosis client")}
}

// SubmitImage runs step 1 on an already uploaded image.
func (c *Client) SubmitImage(ctx context.Context, imageURL string) (*Diagnosis, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, &apiclient.ValidationError{Field: "imageUrl", Message: "image url is empty"}
	}
	var result Diagnosis
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/diagnosis/step1",
		Body:   step1Request{ImageURL: imageURL},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, &apiclient.ServerError{StatusCode: http.StatusOK, Message: "step 1 returned no diagnosis id"}
	}
	c.diagnosisLogger.Info().
		Str("diagnosis_id", result.ID).
		Bool("is_normal", result.IsNormal).
		Float64("confidence", result.Confidence).
		Msg("Step 1 finished")
	return &result, nil
}

// FetchCategory asks for the step-2 classification. A job that has not
// finished yet is reported as a pending result, not as an error.
func (c *Client) FetchCategory(ctx context.Context, diagnosisID string) (CategoryResult, error) {
	if err := checkID(diagnosisID); err != nil {
		return CategoryResult{}, err
	}
	env, err := c.api.Send(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/diagnosis/step2/" + url.PathEscape(diagnosisID),
	})
	if err != nil {
		return CategoryResult{}, err
	}
	if env.Processing() || !env.HasData() {
		return Pending(), nil
	}
	var category Category
	if err := env.Decode(&category); err != nil {
		return CategoryResult{}, fmt.Errorf("failed to decode step 2 payload: %w", err)
	}
	if category.Category == "" {
		return Pending(), nil
	}
	if category.ID == "" {
		category.ID = diagnosisID
	}
	return Resolved(category), nil
}

// FetchAttributes loads the step-3 questions for a diagnosis.
func (c *Client) FetchAttributes(ctx context.Context, diagnosisID string) ([]Attribute, error) {
	if err := checkID(diagnosisID); err != nil {
		return nil, err
	}
	var result attributesResponse
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/diagnosis/attributes/" + url.PathEscape(diagnosisID),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Attributes, nil
}

// SubmitDetailed sends the step-3 answers and returns the final diagnosis.
func (c *Client) SubmitDetailed(ctx context.Context, diagnosisID string, answers []Answer) (*DetailedResult, error) {
	if err := checkID(diagnosisID); err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, &apiclient.ValidationError{Field: "userResponses", Message: "at least one answer is required"}
	}
	responses := make([]userResponse, 0, len(answers))
	for i, answer := range answers {
		if strings.TrimSpace(answer.Response) == "" {
			return nil, &apiclient.ValidationError{
				Field:   fmt.Sprintf("userResponses[%d]", i),
				Message: fmt.Sprintf("answer to attribute %d is blank", answer.AttributeID),
			}
		}
		responses = append(responses, userResponse{
			DiagnosisRuleID: strconv.Itoa(answer.AttributeID),
			UserResponse:    answer.Response,
		})
	}
	var result DetailedResult
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/diagnosis/step3",
		Body:   detailedRequest{DiagnosisID: diagnosisID, UserResponses: responses},
	}, &result)
	if err != nil {
		return nil, err
	}
	c.diagnosisLogger.Info().
		Str("diagnosis_id", diagnosisID).
		Str("category", result.Category).
		Msg("Detailed diagnosis finished")
	return &result, nil
}

func checkID(diagnosisID string) error {
	if strings.TrimSpace(diagnosisID) == "" {
		return &apiclient.ValidationError{Field: "diagnosisId", Message: "diagnosis id is empty"}
	}
	return nil
}
