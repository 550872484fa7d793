package loader

import "time"

// LoadOptions controls one navigation.
type LoadOptions struct {
	BypassCache bool
	Timeout     time.Duration
}

// View is one content view instance. Calls are made from the owning session only.
type View interface {
	// Load cancels nothing by itself; callers stop pending navigations first.
	Load(target string, opts LoadOptions)
	// Reload reloads the current page.
	Reload()
	// ReloadFromOrigin reloads bypassing every cache.
	ReloadFromOrigin()
	StopLoading()
	// URL is the address the view currently shows, or "".
	URL() string
	// InspectContent reports asynchronously whether the loaded document body is empty.
	InspectContent(done func(empty bool))
	// Close releases the view. It receives no further calls.
	Close()
}

// NavigationDelegate receives navigation events from a view, from any goroutine.
type NavigationDelegate interface {
	NavigationFinished(url string)
	NavigationFailed(url string, err error)
}

// ViewFactory creates a fresh view reporting to delegate.
type ViewFactory func(delegate NavigationDelegate) View
