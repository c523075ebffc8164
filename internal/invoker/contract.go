package invoker

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/observability"
)

// Endpoint is one method and path template a typed client depends on.
type Endpoint struct {
	Method string
	Path   string
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

var pathParam = regexp.MustCompile(`\{[^}]*\}`)

// key normalises the template so parameter names do not matter.
func (e Endpoint) key() string {
	return strings.ToUpper(e.Method) + " " + pathParam.ReplaceAllString(strings.TrimRight(e.Path, "/"), "{}")
}

// Contract checks a service's published OpenAPI document against the
// endpoints its client calls. It implements observability.HealthChecker.
type Contract struct {
	serviceID string
	source    string
	required  []Endpoint
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewContract creates a contract check. source is an http(s) URL or a file
// path.
func NewContract(serviceID, source string, required []Endpoint, logger *zap.Logger, metrics *observability.Metrics) *Contract {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contract{
		serviceID: serviceID,
		source:    source,
		required:  required,
		logger:    logger,
		metrics:   metrics,
	}
}

// Missing loads the document and returns the required endpoints it does not
// declare, sorted.
func (c *Contract) Missing(ctx context.Context) ([]Endpoint, error) {
	doc, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool)
	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			for method := range item.Operations() {
				declared[Endpoint{Method: method, Path: path}.key()] = true
			}
		}
	}

	var missing []Endpoint
	for _, e := range c.required {
		if !declared[e.key()] {
			missing = append(missing, e)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	c.metrics.SetContractMissingOperations(c.serviceID, len(missing))
	return missing, nil
}

// HealthCheck fails when the document cannot be loaded or lacks an endpoint.
func (c *Contract) HealthCheck(ctx context.Context) error {
	missing, err := c.Missing(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, e := range missing {
			names[i] = e.String()
		}
		c.logger.Warn("backend contract incomplete",
			zap.String("service_id", c.serviceID),
			zap.Strings("missing", names),
		)
		return fmt.Errorf("%s is missing %d operation(s): %s", c.serviceID, len(missing), strings.Join(names, ", "))
	}
	return nil
}

func (c *Contract) load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	var (
		doc *openapi3.T
		err error
	)
	if u, perr := url.Parse(c.source); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		loader.IsExternalRefsAllowed = true
		doc, err = loader.LoadFromURI(u)
	} else {
		doc, err = loader.LoadFromFile(c.source)
	}
	if err != nil {
		return nil, fmt.Errorf("invoker: loading %s contract (%s): %w", c.serviceID, c.source, err)
	}
	return doc, nil
}
