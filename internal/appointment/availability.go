package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

type ClinicianAvailability struct {
	Clinician Clinician `json:"clinician"`
	Slots     []Slot    `json:"slots"`
	Count     int       `json:"count"`
}

// Availability maps a clinician id to that clinician's free slots for one day.
type Availability map[int64]*ClinicianAvailability

// Ordered returns the groups sorted by clinician id.
func (a Availability) Ordered() []ClinicianAvailability {
	ids := make([]int64, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]ClinicianAvailability, 0, len(ids))
	for _, id := range ids {
		out = append(out, *a[id])
	}
	return out
}

// DayBounds returns [start of day, start of next day) for date's calendar day in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

// ParseDate reads a YYYY-MM-DD calendar date in the service's time zone.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, raw, s.cfg.Location)
}

// ListAvailableSlots returns the unbooked slots starting on date, grouped by clinician.
func (s *Service) ListAvailableSlots(ctx context.Context, date time.Time, clinicianID *int64) (Availability, error) {
	day := date.Format(dateLayout)
	gen, cacheable := s.availabilityGeneration(ctx, day)
	key := availabilityKey(day, gen, clinicianID)

	if cacheable {
		if cached, ok := s.cachedAvailability(ctx, key); ok {
			return cached, nil
		}
	}

	from, to := DayBounds(date, s.cfg.Location)
	slots, err := s.store.ListFreeSlots(ctx, from, to, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}

	result := Availability{}
	if len(slots) > 0 {
		clinicians, err := s.store.ListClinicians(ctx)
		if err != nil {
			return nil, fmt.Errorf("list clinicians: %w", err)
		}
		byID := make(map[int64]Clinician, len(clinicians))
		for _, c := range clinicians {
			byID[c.ID] = c
		}

		for _, sl := range slots {
			group, ok := result[sl.ClinicianID]
			if !ok {
				c, found := byID[sl.ClinicianID]
				if !found {
					return nil, fmt.Errorf("slot %d: %w", sl.ID, ErrClinicianNotFound)
				}
				group = &ClinicianAvailability{Clinician: c}
				result[sl.ClinicianID] = group
			}
			group.Slots = append(group.Slots, sl)
			group.Count++
		}
	}

	if cacheable {
		s.storeAvailability(ctx, day, gen, key, result)
	}
	return result, nil
}

// availabilityKey names one cached day at one generation. A bump leaves older keys unreachable.
func availabilityKey(day string, gen int64, clinicianID *int64) string {
	who := "all"
	if clinicianID != nil {
		who = strconv.FormatInt(*clinicianID, 10)
	}
	return "avail:" + day + ":" + strconv.FormatInt(gen, 10) + ":" + who
}

func generationKey(day string) string {
	return "avail:gen:" + day
}

// availabilityGeneration reports the day's generation and whether the cache may be used at all.
func (s *Service) availabilityGeneration(ctx context.Context, day string) (int64, bool) {
	if s.cache == nil || s.cfg.AvailabilityCacheTTL <= 0 {
		return 0, false
	}
	gen, err := s.cache.Generation(ctx, generationKey(day))
	if err != nil {
		s.log.Warn().Err(err).Str("day", day).Msg("availability generation read failed")
		return 0, false
	}
	return gen, true
}

func (s *Service) cachedAvailability(ctx context.Context, key string) (Availability, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("availability cache get failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var groups []ClinicianAvailability
	if err := json.Unmarshal(data, &groups); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("availability cache entry corrupt")
		return nil, false
	}
	result := make(Availability, len(groups))
	for i := range groups {
		g := groups[i]
		result[g.Clinician.ID] = &g
	}
	return result, true
}

// storeAvailability skips the write when a commit bumped the day while the result was being read.
func (s *Service) storeAvailability(ctx context.Context, day string, gen int64, key string, a Availability) {
	if now, ok := s.availabilityGeneration(ctx, day); !ok || now != gen {
		return
	}
	data, err := json.Marshal(a.Ordered())
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal availability")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.AvailabilityCacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("availability cache set failed")
	}
}

// invalidateAvailability bumps the generation of every day touched by slots. Runs after commit.
func (s *Service) invalidateAvailability(ctx context.Context, slots ...Slot) {
	if s.cache == nil {
		return
	}
	seen := make(map[string]bool, len(slots))
	for _, sl := range slots {
		day := sl.StartTime.In(s.cfg.Location).Format(dateLayout)
		if seen[day] {
			continue
		}
		seen[day] = true
		if _, err := s.cache.Bump(ctx, generationKey(day)); err != nil {
			s.log.Warn().Err(err).Str("day", day).Msg("availability cache invalidation failed")
		}
	}
}

// DayBounds returns the calendar day bounds of date in the service's time zone.
func (s *Service) DayBounds(date time.Time) (time.Time, time.Time) {
	return DayBounds(date, s.cfg.Location)
}
