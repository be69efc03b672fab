// Package cats manages the cat profiles of the logged-in owner.
package cats

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catcare.com/client/apiclient"
)

type Gender string

const (
	Female Gender = "FEMALE"
	Male   Gender = "MALE"
)

type Cat struct {
	ID            string    `json:"id" yaml:"id"`
	CreatedAt     time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updated_at"`
	Name          string    `json:"name" yaml:"name"`
	Image         string    `json:"image" yaml:"image"`
	BirthDate     string    `json:"birthDate" yaml:"birth_date"`
	Breed         string    `json:"breed" yaml:"breed"`
	Gender        Gender    `json:"gender" yaml:"gender"`
	Weight        float64   `json:"weight" yaml:"weight"`
	LastDiagnosis string    `json:"lastDiagnosis" yaml:"last_diagnosis"`
	SpecialNotes  string    `json:"specialNotes" yaml:"special_notes"`
}

// Input is the writable part of a Cat.
type Input struct {
	Name          string  `json:"name" yaml:"name"`
	Image         string  `json:"image" yaml:"image"`
	BirthDate     string  `json:"birthDate" yaml:"birth_date"`
	Breed         string  `json:"breed" yaml:"breed"`
	Gender        Gender  `json:"gender" yaml:"gender"`
	Weight        float64 `json:"weight" yaml:"weight"`
	LastDiagnosis string  `json:"lastDiagnosis" yaml:"last_diagnosis"`
	SpecialNotes  string  `json:"specialNotes" yaml:"special_notes"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &apiclient.ValidationError{Field: "name", Message: "name is empty"}
	}
	if in.Gender != Female && in.Gender != Male {
		return &apiclient.ValidationError{Field: "gender", Message: "gender must be FEMALE or MALE"}
	}
	if in.Weight < 0 {
		return &apiclient.ValidationError{Field: "weight", Message: "weight is negative"}
	}
	return nil
}

type Client struct {
	api *apiclient.Client
}

func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api}
}

func (c *Client) List(ctx context.Context) ([]Cat, error) {
	var result []Cat
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/cats"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Get(ctx context.Context, catID string) (*Cat, error) {
	if err := checkID(catID); err != nil {
		return nil, err
	}
	var result Cat
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: catPath(catID)}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Create(ctx context.Context, in Input) (*Cat, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var result Cat
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/cats", Body: in}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Update(ctx context.Context, catID string, in Input) (*Cat, error) {
	if err := checkID(catID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var result Cat
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPut, Path: catPath(catID), Body: in}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Delete(ctx context.Context, catID string) error {
	if err := checkID(catID); err != nil {
		return err
	}
	return c.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: catPath(catID)}, nil)
}

func catPath(catID string) string {
	return "/cats/" + url.PathEscape(catID)
}

func checkID(catID string) error {
	if strings.TrimSpace(catID) == "" {
		return &apiclient.ValidationError{Field: "catId", Message: "cat id is empty"}
	}
	return nil
}
