package wschat

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type (
	// OpenConnectionParams is what the transport needs to dial the broker.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// OpenConnectionParamsRepo resolves dial parameters on every connection
	// attempt, so reconnections pick up a changed endpoint or headers.
	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// StaticOpenConnectionParams always dials rawURL with the given header.
func StaticOpenConnectionParams(rawURL string, header http.Header) OpenConnectionParamsGetter {
	return func(context.Context) (OpenConnectionParams, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return OpenConnectionParams{}, errors.Wrapf(ErrCannotConnect, "invalid broker url %q: %s", rawURL, err)
		}
		return OpenConnectionParams{URL: *u, Header: header.Clone()}, nil
	}
}
