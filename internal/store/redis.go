package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
)

// Key layout, mirroring the logical paths of the shared storage:
//
//	nightsafe:presence_geo                 GEO set, member = identity
//	nightsafe:presence:{identity}          HASH lat/lng/ts
//	nightsafe:routes:{identity}:points     LIST of JSON positions
//	nightsafe:routes:{identity}:meta       STRING lastUpdated ms
//	nightsafe:alerts:{id}                  STRING JSON alert
//	nightsafe:alerts:index                 ZSET score = ts, member = id
//	nightsafe:trustedCabs:{normalizedId}   STRING JSON registry entry
//	nightsafe:cabTrips:{identity}:{id}     HASH trip fields
//	nightsafe:cabTrips:{identity}:index    ZSET score = startTime
//	nightsafe:events                       pub/sub channel for Watch
const (
	presenceGeoKey = "nightsafe:presence_geo"
	alertIndexKey  = "nightsafe:alerts:index"
	eventsChannel  = "nightsafe:events"
)

// RedisStore implements Store on a Redis instance.
type RedisStore struct {
	client         *redis.Client
	maxTrackPoints int
}

func NewRedisStore(addr, password string, maxTrackPoints int) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, maxTrackPoints: maxTrackPoints}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func presenceKey(id string) string  { return "nightsafe:presence:" + id }
func pointsKey(id string) string    { return "nightsafe:routes:" + id + ":points" }
func routeMetaKey(id string) string { return "nightsafe:routes:" + id + ":meta" }
func alertKey(id string) string     { return "nightsafe:alerts:" + id }
func registryKey(id string) string  { return "nightsafe:trustedCabs:" + id }
func tripKey(identity, id string) string {
	return "nightsafe:cabTrips:" + identity + ":" + id
}
func tripIndexKey(identity string) string { return "nightsafe:cabTrips:" + identity + ":index" }

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", nserr.ErrStorageFailure, err)
}

func (r *RedisStore) SetPresence(ctx context.Context, rec models.PresenceRecord) error {
	if _, err := r.client.GeoAdd(ctx, presenceGeoKey, &redis.GeoLocation{
		Longitude: rec.Lng, Latitude: rec.Lat, Name: rec.Identity,
	}).Result(); err != nil {
		return storageErr(err)
	}
	if err := r.client.HSet(ctx, presenceKey(rec.Identity), map[string]interface{}{
		"lat": rec.Lat, "lng": rec.Lng, "ts": rec.Timestamp,
	}).Err(); err != nil {
		return storageErr(err)
	}
	r.publish(ctx, Event{Type: EventPresence, Identity: rec.Identity})
	return nil
}

func (r *RedisStore) Presence(ctx context.Context, identity string) (models.PresenceRecord, bool, error) {
	m, err := r.client.HGetAll(ctx, presenceKey(identity)).Result()
	if err != nil {
		return models.PresenceRecord{}, false, storageErr(err)
	}
	if len(m) == 0 {
		return models.PresenceRecord{}, false, nil
	}
	return presenceFromHash(identity, m), true, nil
}

func presenceFromHash(identity string, m map[string]string) models.PresenceRecord {
	rec := models.PresenceRecord{Identity: identity}
	rec.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	rec.Lng, _ = strconv.ParseFloat(m["lng"], 64)
	rec.Timestamp, _ = strconv.ParseInt(m["ts"], 10, 64)
	return rec
}

func (r *RedisStore) PresenceAll(ctx context.Context, identities []string) (map[string]models.PresenceRecord, error) {
	out := make(map[string]models.PresenceRecord, len(identities))
	for _, id := range identities {
		rec, ok, err := r.Presence(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (r *RedisStore) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.PresenceRecord, error) {
	res, err := r.client.GeoRadius(ctx, presenceGeoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]models.PresenceRecord, 0, len(res))
	for _, g := range res {
		rec := models.PresenceRecord{Identity: g.Name, Lat: g.Latitude, Lng: g.Longitude}
		if m, err := r.client.HGetAll(ctx, presenceKey(g.Name)).Result(); err == nil {
			if v, ok := m["ts"]; ok {
				rec.Timestamp, _ = strconv.ParseInt(v, 10, 64)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) AppendTrackPoint(ctx context.Context, identity string, p models.Position) error {
	b, _ := json.Marshal(p)
	if err := r.client.RPush(ctx, pointsKey(identity), b).Err(); err != nil {
		return storageErr(err)
	}
	if r.maxTrackPoints > 0 {
		// retention cap, keep the newest points
		_ = r.client.LTrim(ctx, pointsKey(identity), int64(-r.maxTrackPoints), -1).Err()
	}
	r.publish(ctx, Event{Type: EventTrack, Identity: identity})
	return nil
}

func (r *RedisStore) Track(ctx context.Context, identity string) ([]models.Position, error) {
	vals, err := r.client.LRange(ctx, pointsKey(identity), 0, -1).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([]models.Position, 0, len(vals))
	for _, v := range vals {
		var p models.Position
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisStore) SetTrackMeta(ctx context.Context, identity string, lastUpdated int64) error {
	if err := r.client.Set(ctx, routeMetaKey(identity), lastUpdated, 0).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisStore) DeleteTrack(ctx context.Context, identity string) error {
	if err := r.client.Del(ctx, pointsKey(identity), routeMetaKey(identity)).Err(); err != nil {
		return storageErr(err)
	}
	r.publish(ctx, Event{Type: EventTrack, Identity: identity})
	return nil
}

func (r *RedisStore) TrackIdentities(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, "nightsafe:routes:*:points", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, "nightsafe:routes:"), ":points")
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, storageErr(err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisStore) AppendAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	a.ID = uuid.NewString()
	b, _ := json.Marshal(a)
	if err := r.client.Set(ctx, alertKey(a.ID), b, 0).Err(); err != nil {
		return models.Alert{}, storageErr(err)
	}
	if err := r.client.ZAdd(ctx, alertIndexKey, redis.Z{Score: float64(a.Timestamp), Member: a.ID}).Err(); err != nil {
		return models.Alert{}, storageErr(err)
	}
	r.publish(ctx, Event{Type: EventAlertAdded, AlertID: a.ID})
	return a, nil
}

func (r *RedisStore) Alert(ctx context.Context, id string) (models.Alert, bool, error) {
	v, err := r.client.Get(ctx, alertKey(id)).Result()
	if err == redis.Nil {
		return models.Alert{}, false, nil
	}
	if err != nil {
		return models.Alert{}, false, storageErr(err)
	}
	var a models.Alert
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return models.Alert{}, false, storageErr(err)
	}
	return a, true, nil
}

func (r *RedisStore) Alerts(ctx context.Context) ([]models.Alert, error) {
	ids, err := r.client.ZRange(ctx, alertIndexKey, 0, -1).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]models.Alert, 0, len(ids))
	for _, id := range ids {
		a, ok, err := r.Alert(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteAlert is delete-if-exists; concurrent sweeps removing the same
// id are fine.
func (r *RedisStore) DeleteAlert(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, alertKey(id)).Result()
	if err != nil {
		return storageErr(err)
	}
	if err := r.client.ZRem(ctx, alertIndexKey, id).Err(); err != nil {
		return storageErr(err)
	}
	if n > 0 {
		r.publish(ctx, Event{Type: EventAlertDeleted, AlertID: id})
	}
	return nil
}

func (r *RedisStore) RegistryEntry(ctx context.Context, normalizedID string) (models.RegistryEntry, bool, error) {
	v, err := r.client.Get(ctx, registryKey(normalizedID)).Result()
	if err == redis.Nil {
		return models.RegistryEntry{}, false, nil
	}
	if err != nil {
		return models.RegistryEntry{}, false, storageErr(err)
	}
	var e models.RegistryEntry
	if err := json.Unmarshal([]byte(v), &e); err != nil {
		return models.RegistryEntry{}, false, storageErr(err)
	}
	return e, true, nil
}

func (r *RedisStore) PutRegistryEntry(ctx context.Context, normalizedID string, e models.RegistryEntry) error {
	b, _ := json.Marshal(e)
	if err := r.client.Set(ctx, registryKey(normalizedID), b, 0).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisStore) AppendTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	t.ID = uuid.NewString()
	driver, _ := json.Marshal(t.Driver)
	if err := r.client.HSet(ctx, tripKey(t.Identity, t.ID), map[string]interface{}{
		"vehicle_id": t.VehicleID,
		"verified":   strconv.FormatBool(t.Verified),
		"start_time": t.StartTime,
		"status":     string(t.Status),
		"driver":     driver,
		"feedback":   t.Feedback,
	}).Err(); err != nil {
		return models.Trip{}, storageErr(err)
	}
	if err := r.client.ZAdd(ctx, tripIndexKey(t.Identity), redis.Z{Score: float64(t.StartTime), Member: t.ID}).Err(); err != nil {
		return models.Trip{}, storageErr(err)
	}
	return t, nil
}

func (r *RedisStore) Trip(ctx context.Context, identity, tripID string) (models.Trip, bool, error) {
	m, err := r.client.HGetAll(ctx, tripKey(identity, tripID)).Result()
	if err != nil {
		return models.Trip{}, false, storageErr(err)
	}
	if len(m) == 0 {
		return models.Trip{}, false, nil
	}
	return tripFromHash(identity, tripID, m), true, nil
}

func tripFromHash(identity, tripID string, m map[string]string) models.Trip {
	t := models.Trip{ID: tripID, Identity: identity}
	t.VehicleID = m["vehicle_id"]
	t.Verified = m["verified"] == "true"
	t.StartTime, _ = strconv.ParseInt(m["start_time"], 10, 64)
	t.Status = models.TripStatus(m["status"])
	t.Feedback = m["feedback"]
	_ = json.Unmarshal([]byte(m["driver"]), &t.Driver)
	return t
}

// Status and feedback are single-field overwrites, never
// read-modify-write of the whole record.
func (r *RedisStore) SetTripStatus(ctx context.Context, identity, tripID string, status models.TripStatus) error {
	if err := r.client.HSet(ctx, tripKey(identity, tripID), "status", string(status)).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisStore) SetTripFeedback(ctx context.Context, identity, tripID, feedback string) error {
	if err := r.client.HSet(ctx, tripKey(identity, tripID), "feedback", feedback).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisStore) Trips(ctx context.Context, identity string, limit int) ([]models.Trip, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, tripIndexKey(identity), 0, stop).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]models.Trip, 0, len(ids))
	for _, id := range ids {
		t, ok, err := r.Trip(ctx, identity, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *RedisStore) DeleteTrip(ctx context.Context, identity, tripID string) error {
	if err := r.client.Del(ctx, tripKey(identity, tripID)).Err(); err != nil {
		return storageErr(err)
	}
	if err := r.client.ZRem(ctx, tripIndexKey(identity), tripID).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisStore) Watch(ctx context.Context) (<-chan Event, func()) {
	sub := r.client.Subscribe(ctx, eventsChannel)
	out := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel
}

// publish is best-effort; a missed event self-heals on the next
// snapshot re-read.
func (r *RedisStore) publish(ctx context.Context, ev Event) {
	b, _ := json.Marshal(ev)
	_ = r.client.Publish(ctx, eventsChannel, b).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
