package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"linkprobe/internal/errors"
	"linkprobe/internal/transport/linksim"
)

var _ Handle = (*linksim.Endpoint)(nil)

// openSimPair builds an in-memory link from two endpoints of the form
// sim://<link>/<side>?capacity=N&drop=N&corrupt=N&latency=D&blackhole=true.
// Query parameters describe the bytes that side sends.
func openSimPair(endpointA, endpointB string, s Settings) (Handle, Handle, error) {
	linkA, dirA, err := parseSimEndpoint(endpointA)
	if err != nil {
		return nil, nil, err
	}
	linkB, dirB, err := parseSimEndpoint(endpointB)
	if err != nil {
		return nil, nil, err
	}
	if linkA != linkB {
		return nil, nil, errors.NewValidationError("endpoint", endpointB,
			fmt.Sprintf("simulated endpoints belong to different links (%q and %q)", linkA, linkB))
	}

	link := linksim.New(endpointA, endpointB, linksim.Options{
		AtoB:        dirA,
		BtoA:        dirB,
		ReadTimeout: s.readTimeout(),
	})

	slog.Debug("Simulated link opened", "link", linkA, "a_to_b", dirA, "b_to_a", dirB)

	return link.A, link.B, nil
}

func parseSimEndpoint(endpoint string) (string, linksim.Direction, error) {
	var dir linksim.Direction

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", dir, errors.NewValidationError("endpoint", endpoint, err.Error())
	}
	if u.Host == "" {
		return "", dir, errors.NewValidationError("endpoint", endpoint, "simulated endpoint needs a link name, e.g. sim://bench/a")
	}

	q := u.Query()
	intParam := func(key string, dst *int) error {
		v := q.Get(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return errors.NewValidationError(key, v, "expected a non-negative integer")
		}
		*dst = n
		return nil
	}

	if err := intParam("capacity", &dir.Capacity); err != nil {
		return "", dir, err
	}
	if err := intParam("drop", &dir.DropEvery); err != nil {
		return "", dir, err
	}
	if err := intParam("corrupt", &dir.CorruptEvery); err != nil {
		return "", dir, err
	}

	if v := q.Get("latency"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return "", dir, errors.NewValidationError("latency", v, "expected a non-negative duration")
		}
		dir.Latency = d
	}

	if v := q.Get("blackhole"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", dir, errors.NewValidationError("blackhole", v, "expected a boolean")
		}
		dir.Blackhole = b
	}

	return u.Host, dir, nil
}
