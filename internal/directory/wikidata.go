package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/deathlist/backend/internal/config"
	"github.com/deathlist/backend/pkg/logger"
)

const (
	searchLimit    = 10
	dateOfBirth    = "P569"
	dateOfDeath    = "P570"
	wikidataLayout = "+2006-01-02T15:04:05Z"
)

// WikidataClient implements Directory against the Wikidata action API.
type WikidataClient struct {
	baseURL  string
	locale   string
	attempts uint
	http     *http.Client
}

func NewWikidataClient(cfg config.DirectoryConfig) *WikidataClient {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &WikidataClient{
		baseURL:  cfg.BaseURL,
		locale:   cfg.Locale,
		attempts: uint(attempts),
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

type searchResponse struct {
	Search []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Description string `json:"description"`
	} `json:"search"`
}

type wikidataClaim struct {
	MainSnak struct {
		DataValue struct {
			Value struct {
				Time string `json:"time"`
			} `json:"value"`
		} `json:"datavalue"`
	} `json:"mainsnak"`
}

type wikidataText struct {
	Value string `json:"value"`
}

type wikidataEntity struct {
	Labels       map[string]wikidataText    `json:"labels"`
	Descriptions map[string]wikidataText    `json:"descriptions"`
	Claims       map[string][]wikidataClaim `json:"claims"`
}

type entitiesResponse struct {
	Entities map[string]wikidataEntity `json:"entities"`
}

func (w *WikidataClient) Search(ctx context.Context, query, locale string) ([]Person, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if locale == "" {
		locale = w.locale
	}

	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("format", "json")
	params.Set("type", "item")
	params.Set("limit", fmt.Sprintf("%d", searchLimit))
	params.Set("language", locale)
	params.Set("search", query)

	var result searchResponse
	if err := w.get(ctx, params, &result); err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}

	if len(result.Search) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(result.Search))
	for _, hit := range result.Search {
		ids = append(ids, hit.ID)
	}

	lifeData, err := w.fetchEntities(ctx, ids, locale)
	if err != nil {
		return nil, fmt.Errorf("directory search details: %w", err)
	}

	people := make([]Person, 0, len(result.Search))
	for _, hit := range result.Search {
		person := Person{
			ExternalID: hit.ID,
			Name:       hit.Label,
			Descriptor: hit.Description,
		}
		if life, ok := lifeData[hit.ID]; ok {
			person.Deceased = life.Deceased
			person.Age = life.Age
		}
		people = append(people, person)
	}
	return people, nil
}

func (w *WikidataClient) Lookup(ctx context.Context, externalID string) (Person, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Person{}, ErrPersonNotFound
	}

	lifeData, err := w.fetchEntities(ctx, []string{externalID}, w.locale)
	if err != nil {
		return Person{}, fmt.Errorf("directory lookup %s: %w", externalID, err)
	}

	person, ok := lifeData[externalID]
	if !ok {
		return Person{}, ErrPersonNotFound
	}
	return person, nil
}

func (w *WikidataClient) fetchEntities(ctx context.Context, ids []string, locale string) (map[string]Person, error) {
	params := url.Values{}
	params.Set("action", "wbgetentities")
	params.Set("format", "json")
	params.Set("props", "labels|descriptions|claims")
	params.Set("languages", locale)
	params.Set("ids", strings.Join(ids, "|"))

	var result entitiesResponse
	if err := w.get(ctx, params, &result); err != nil {
		return nil, err
	}

	people := make(map[string]Person, len(result.Entities))
	for id, entity := range result.Entities {
		person := Person{ExternalID: id}
		if label, ok := entity.Labels[locale]; ok {
			person.Name = label.Value
		}
		if desc, ok := entity.Descriptions[locale]; ok {
			person.Descriptor = desc.Value
		}

		born := claimTime(entity.Claims[dateOfBirth])
		died := claimTime(entity.Claims[dateOfDeath])
		person.Deceased = died != nil
		if born != nil {
			until := time.Now().UTC()
			if died != nil {
				until = *died
			}
			age := yearsBetween(*born, until)
			person.Age = &age
		}

		people[id] = person
	}
	return people, nil
}

func (w *WikidataClient) get(ctx context.Context, params url.Values, target interface{}) error {
	requestURL := w.baseURL + "?" + params.Encode()

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := w.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(target)
		},
		retry.Attempts(w.attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("directory_request_retry", map[string]interface{}{
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
	)
}

func claimTime(claims []wikidataClaim) *time.Time {
	for _, claim := range claims {
		raw := claim.MainSnak.DataValue.Value.Time
		if raw == "" {
			continue
		}
		// Wikidata pads partial dates with zero month/day; normalize so the
		// layout still parses.
		raw = strings.Replace(raw, "-00-00T", "-01-01T", 1)
		raw = strings.Replace(raw, "-00T", "-01T", 1)
		parsed, err := time.Parse(wikidataLayout, raw)
		if err != nil {
			continue
		}
		return &parsed
	}
	return nil
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years
}
