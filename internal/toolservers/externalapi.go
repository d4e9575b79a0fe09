package toolservers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/trialchat/internal/cache"
	"github.com/haasonsaas/trialchat/internal/retry"
)

const (
	defaultTrialsURL = "https://clinicaltrials.gov/api/v2"
	defaultFDAURL    = "https://api.fda.gov"

	defaultMaxStudies = 10
	maxStudies        = 100
	fdaResultLimit    = 5
	maxResponseBytes  = 16 << 20
)

// ExternalAPIOptions configures the external API tool server.
type ExternalAPIOptions struct {
	ClinicalTrialsURL string
	FDAURL            string
	FDAAPIKey         string
	Timeout           time.Duration
	HTTPClient        *http.Client
	Retry             retry.Config
	// CacheTTL keeps successful responses for repeated identical searches.
	// Zero disables caching.
	CacheTTL  time.Duration
	CacheSize int
}

// TrialSearchArgs are the search_clinical_trials arguments.
type TrialSearchArgs struct {
	Query    string `json:"query" jsonschema:"Search query such as a disease name, intervention or sponsor"`
	MaxItems int    `json:"max_items,omitempty" jsonschema:"Maximum number of studies to return (default 10)"`
}

// Study is one ClinicalTrials.gov study.
type Study struct {
	NCTID         string   `json:"nct_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Conditions    []string `json:"conditions"`
	Interventions []string `json:"interventions"`
	Phase         string   `json:"phase"`
	Enrollment    int      `json:"enrollment"`
}

// TrialSearchResult is the search_clinical_trials result.
type TrialSearchResult struct {
	Query        string  `json:"query"`
	TotalResults int     `json:"total_results"`
	Studies      []Study `json:"studies"`
}

// DrugSearchArgs are the search_fda_drugs arguments.
type DrugSearchArgs struct {
	DrugName string `json:"drug_name" jsonschema:"Drug brand name to search for"`
}

// DrugLabel is one openFDA drug label.
type DrugLabel struct {
	BrandName    string `json:"brand_name"`
	GenericName  string `json:"generic_name"`
	Manufacturer string `json:"manufacturer"`
	Purpose      string `json:"purpose"`
	Indications  string `json:"indications"`
	Warnings     string `json:"warnings"`
}

// DrugSearchResult is the search_fda_drugs result.
type DrugSearchResult struct {
	DrugName     string      `json:"drug_name"`
	ResultsCount int         `json:"results_count"`
	Results      []DrugLabel `json:"results"`
}

// ExternalAPI queries ClinicalTrials.gov and openFDA.
type ExternalAPI struct {
	opts   ExternalAPIOptions
	client *http.Client
	cache  *cache.TTL[[]byte]
	logger *slog.Logger
}

// NewExternalAPI creates the external API tools.
func NewExternalAPI(opts ExternalAPIOptions, logger *slog.Logger) *ExternalAPI {
	if opts.ClinicalTrialsURL == "" {
		opts.ClinicalTrialsURL = defaultTrialsURL
	}
	if opts.FDAURL == "" {
		opts.FDAURL = defaultFDAURL
	}
	opts.ClinicalTrialsURL = strings.TrimRight(opts.ClinicalTrialsURL, "/")
	opts.FDAURL = strings.TrimRight(opts.FDAURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	api := &ExternalAPI{
		opts:   opts,
		client: client,
		cache:  cache.New[[]byte](cache.Options{TTL: opts.CacheTTL, MaxSize: opts.CacheSize}),
		logger: logger.With("component", "external-api-tools"),
	}
	if api.opts.Retry.OnRetry == nil {
		api.opts.Retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			api.logger.Warn("upstream request failed; retrying", "attempt", attempt, "delay", delay, "error", err)
		}
	}
	return api
}

// Register adds the external API tools to server.
func (a *ExternalAPI) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_clinical_trials",
		Description: "Search the ClinicalTrials.gov database for clinical studies.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args TrialSearchArgs) (*mcp.CallToolResult, TrialSearchResult, error) {
		result, err := a.SearchTrials(ctx, args.Query, args.MaxItems)
		return nil, result, err
	})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_fda_drugs",
		Description: "Search the FDA drug label database for drug labels and regulatory information.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args DrugSearchArgs) (*mcp.CallToolResult, DrugSearchResult, error) {
		result, err := a.SearchDrugs(ctx, args.DrugName)
		return nil, result, err
	})
}

// SearchTrials queries the ClinicalTrials.gov v2 studies endpoint.
func (a *ExternalAPI) SearchTrials(ctx context.Context, query string, maxItems int) (TrialSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return TrialSearchResult{}, fmt.Errorf("query is required")
	}
	if maxItems <= 0 {
		maxItems = defaultMaxStudies
	}
	maxItems = min(maxItems, maxStudies)

	params := url.Values{}
	params.Set("query.term", query)
	params.Set("pageSize", strconv.Itoa(maxItems))
	params.Set("countTotal", "true")
	params.Set("format", "json")

	body, err := a.get(ctx, "ClinicalTrials.gov", a.opts.ClinicalTrialsURL+"/studies?"+params.Encode())
	if err != nil {
		return TrialSearchResult{}, err
	}
	if !gjson.ValidBytes(body) {
		return TrialSearchResult{}, fmt.Errorf("ClinicalTrials.gov returned invalid JSON")
	}

	doc := gjson.ParseBytes(body)
	result := TrialSearchResult{Query: query, Studies: []Study{}}
	doc.Get("studies").ForEach(func(_, study gjson.Result) bool {
		p := study.Get("protocolSection")
		result.Studies = append(result.Studies, Study{
			NCTID:         p.Get("identificationModule.nctId").String(),
			Title:         p.Get("identificationModule.briefTitle").String(),
			Status:        p.Get("statusModule.overallStatus").String(),
			Conditions:    stringList(p.Get("conditionsModule.conditions")),
			Interventions: stringList(p.Get("armsInterventionsModule.interventions.#.name")),
			Phase:         strings.Join(stringList(p.Get("designModule.phases")), ", "),
			Enrollment:    int(p.Get("designModule.enrollmentInfo.count").Int()),
		})
		return true
	})
	result.TotalResults = len(result.Studies)
	if total := doc.Get("totalCount"); total.Exists() {
		result.TotalResults = int(total.Int())
	}
	return result, nil
}

// SearchDrugs queries openFDA drug labels by brand name.
func (a *ExternalAPI) SearchDrugs(ctx context.Context, drugName string) (DrugSearchResult, error) {
	drugName = strings.TrimSpace(drugName)
	if drugName == "" {
		return DrugSearchResult{}, fmt.Errorf("drug_name is required")
	}

	params := url.Values{}
	params.Set("search", fmt.Sprintf("openfda.brand_name:%q", drugName))
	params.Set("limit", strconv.Itoa(fdaResultLimit))
	if a.opts.FDAAPIKey != "" {
		params.Set("api_key", a.opts.FDAAPIKey)
	}

	result := DrugSearchResult{DrugName: drugName, Results: []DrugLabel{}}
	body, err := a.get(ctx, "openFDA", a.opts.FDAURL+"/drug/label.json?"+params.Encode())
	if err != nil {
		// openFDA answers a search without matches with 404 NOT_FOUND.
		if statusErr, ok := asStatusError(err); ok && statusErr.StatusCode == http.StatusNotFound &&
			gjson.Get(statusErr.Body, "error.code").String() == "NOT_FOUND" {
			return result, nil
		}
		return DrugSearchResult{}, err
	}
	if !gjson.ValidBytes(body) {
		return DrugSearchResult{}, fmt.Errorf("openFDA returned invalid JSON")
	}

	gjson.GetBytes(body, "results").ForEach(func(_, label gjson.Result) bool {
		result.Results = append(result.Results, DrugLabel{
			BrandName:    first(label.Get("openfda.brand_name")),
			GenericName:  first(label.Get("openfda.generic_name")),
			Manufacturer: first(label.Get("openfda.manufacturer_name")),
			Purpose:      first(label.Get("purpose")),
			Indications:  first(label.Get("indications_and_usage")),
			Warnings:     first(label.Get("warnings")),
		})
		return true
	})
	result.ResultsCount = len(result.Results)
	return result, nil
}

func (a *ExternalAPI) get(ctx context.Context, service, rawURL string) ([]byte, error) {
	if cached, ok := a.cache.Get(rawURL); ok {
		a.logger.Debug("serving cached response", "service", service)
		return cached, nil
	}
	body, res := retry.DoWithValue(ctx, a.opts.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "trialchat")

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", service, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", service, err)
		}
		if err := retry.CheckResponse(service, resp, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if res.Err != nil {
		return nil, res.Err
	}
	a.cache.Set(rawURL, body)
	return body, nil
}

func asStatusError(err error) (*retry.StatusError, bool) {
	var statusErr *retry.StatusError
	ok := errors.As(err, &statusErr)
	return statusErr, ok
}

// stringList returns the string elements of an array result.
func stringList(r gjson.Result) []string {
	out := []string{}
	for _, item := range r.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// first returns the first element of an array result, or the value itself.
func first(r gjson.Result) string {
	if r.IsArray() {
		items := r.Array()
		if len(items) == 0 {
			return ""
		}
		return items[0].String()
	}
	return r.String()
}
