package cli

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"

	"pdfrag/internal/domain"
)

// fs reads documents from local paths or any URL scheme afs supports.
var fs = afs.New()

// readDocument downloads location and names the document after its last path element.
func readDocument(ctx context.Context, location, namespace string) (domain.Document, error) {
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", location, err)
	}
	return domain.Document{Name: documentName(location), Data: data, Namespace: namespace}, nil
}

func documentName(location string) string {
	if strings.Contains(location, "://") {
		if u, err := url.Parse(location); err == nil && u.Path != "" && u.Path != "/" {
			return path.Base(u.Path)
		}
		return location
	}
	return filepath.Base(location)
}
