package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"DealScanner/internal/ports"
)

const defaultAPIBase = "https://api.telegra.ph"

// allowed maps HTML tags to the node tags Telegraph accepts. Anything
// outside this set is flattened to its text content.
var allowed = map[string]string{
	"p": "p", "a": "a", "b": "b", "strong": "b", "i": "i", "em": "i",
	"br": "br", "h3": "h3", "h4": "h4", "ul": "ul", "ol": "ol", "li": "li",
	"blockquote": "blockquote", "hr": "hr",
}

// Publisher creates Telegraph pages from rendered digest HTML.
type Publisher struct {
	apiBase    string
	token      string
	authorName string
	client     *http.Client
	log        *slog.Logger
}

var _ ports.ArtifactPublisher = (*Publisher)(nil)

// NewPublisher builds a Publisher with the given access token.
func NewPublisher(token, authorName string, log *slog.Logger) *Publisher {
	return &Publisher{
		apiBase:    defaultAPIBase,
		token:      token,
		authorName: authorName,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.With("component", "telegraph"),
	}
}

// NewPublisherWithBase is NewPublisher with a custom API base URL for tests.
func NewPublisherWithBase(apiBase, token, authorName string, log *slog.Logger) *Publisher {
	p := NewPublisher(token, authorName, log)
	p.apiBase = apiBase
	return p
}

type node struct {
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []any             `json:"children,omitempty"`
}

type createPageResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result struct {
		URL string `json:"url"`
	} `json:"result"`
}

// Publish converts the HTML fragment to Telegraph nodes and creates a page,
// returning the public page URL.
func (p *Publisher) Publish(ctx context.Context, title, htmlContent string) (string, error) {
	nodes, err := htmlToNodes(htmlContent)
	if err != nil {
		return "", fmt.Errorf("telegraph: convert content: %w", err)
	}
	content, err := json.Marshal(nodes)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"access_token": {p.token},
		"title":        {title},
		"author_name":  {p.authorName},
		"content":      {string(content)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/createPage", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegraph: createPage: %w", err)
	}
	defer resp.Body.Close()

	var parsed createPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("telegraph: decode: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegraph: createPage refused: %s", parsed.Error)
	}
	p.log.Info("page created", "url", parsed.Result.URL)
	return parsed.Result.URL, nil
}

// htmlToNodes converts an HTML fragment to the Telegraph node tree.
func htmlToNodes(fragment string) ([]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}
	var nodes []any
	doc.Find("body").Each(func(_ int, body *goquery.Selection) {
		for _, n := range body.Nodes {
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				nodes = append(nodes, convert(child)...)
			}
		}
	})
	return nodes, nil
}

func convert(n *html.Node) []any {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return nil
		}
		return []any{n.Data}
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return nil
		}
		tag, ok := allowed[n.Data]
		if !ok {
			// Unknown container: keep the children, drop the wrapper.
			var flat []any
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				flat = append(flat, convert(child)...)
			}
			return flat
		}
		out := node{Tag: tag}
		if tag == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					out.Attrs = map[string]string{"href": attr.Val}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			out.Children = append(out.Children, convert(child)...)
		}
		return []any{out}
	default:
		return nil
	}
}
