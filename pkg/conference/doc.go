// Package conference resolves conference runtime state on first touch:
// stored configuration with environment fallback, a provider client built
// from per-conference credentials, optional provider webhook
// (re)configuration, and a reconciliation pass that brings local room
// records in line with the provider's live state.
//
// Resolution results are cached in bounded TTL caches and cold resolutions
// of the same conference are collapsed through singleflight, so concurrent
// first touches do the provider work once.
package conference
