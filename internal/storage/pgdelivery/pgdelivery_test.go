package pgdelivery

import (
	"context"
	"testing"
	"time"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "skytrack_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/skytrack_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGDelivery_RepoFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Order with items; total is the service's concern, stored as given.
	o, err := st.CreateOrder(ctx, models.OrderCreateInput{
		CustomerID:      7,
		RestaurantID:    3,
		DeliveryAddress: "12 Nguyen Hue, District 1",
		DestLat:         10.7735,
		DestLng:         106.7043,
		Items: []models.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 45000},
		},
	}, 90000, now)
	require.NoError(t, err)
	require.NotZero(t, o.ID)
	require.Equal(t, models.OrderStatusNew, o.Status)
	require.Len(t, o.Items, 1)

	_, err = st.GetOrder(ctx, o.ID+1000)
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	// Compare-and-set status update: a stale expected status loses.
	require.NoError(t, st.UpdateOrderStatus(ctx, o.ID, models.OrderStatusNew, models.OrderStatusConfirmed, now))
	err = st.UpdateOrderStatus(ctx, o.ID, models.OrderStatusNew, models.OrderStatusConfirmed, now)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	// Drones: claim respects the battery floor and marks the winner BUSY.
	_, err = st.CreateDrone(ctx, models.DroneCreateInput{Code: "DRONE-A1", Name: "Falcon", MaxSpeedKmh: 50}, now)
	require.NoError(t, err)
	_, err = st.CreateDrone(ctx, models.DroneCreateInput{Code: "DRONE-A1"}, now)
	require.ErrorIs(t, err, models.ErrAlreadyRecorded)

	_, err = st.db.Exec(ctx, `UPDATE drones SET battery_level = 10 WHERE code = 'DRONE-A1'`)
	require.NoError(t, err)
	_, err = st.ClaimAvailableDrone(ctx)
	require.ErrorIs(t, err, models.ErrNoDroneAvailable)

	_, err = st.db.Exec(ctx, `UPDATE drones SET battery_level = 80 WHERE code = 'DRONE-A1'`)
	require.NoError(t, err)
	claimed, err := st.ClaimAvailableDrone(ctx)
	require.NoError(t, err)
	require.Equal(t, "DRONE-A1", claimed.Code)
	require.Equal(t, models.DroneStatusBusy, claimed.Status)
	_, err = st.ClaimAvailableDrone(ctx)
	require.ErrorIs(t, err, models.ErrNoDroneAvailable)

	// Delivery: one per order, enforced by the unique binding.
	d := &models.Delivery{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		DroneCode: claimed.Code,
		Status:    models.DeliveryStatusAssigned,
		DestLat:   o.DestLat,
		DestLng:   o.DestLng,
		StartLat:  10.7769,
		StartLng:  106.7009,
		CreatedAt: now,
		AssignedAt: func() *time.Time {
			ts := now
			return &ts
		}(),
	}
	require.NoError(t, st.CreateDelivery(ctx, d))
	dup := *d
	dup.ID = uuid.NewString()
	require.ErrorIs(t, st.CreateDelivery(ctx, &dup), models.ErrAlreadyRecorded)

	got, err := st.GetDeliveryByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, d.ID, got.ID)
	require.Nil(t, got.Position)

	// Stage advance stamps the timestamp once; the repeat loses.
	adv, err := st.AdvanceDelivery(ctx, o.ID,
		[]string{models.DeliveryStatusAssigned, models.DeliveryStatusPickingUp},
		models.DeliveryStatusPickedUp, now)
	require.NoError(t, err)
	require.NotNil(t, adv.PickedUpAt)
	_, err = st.AdvanceDelivery(ctx, o.ID,
		[]string{models.DeliveryStatusAssigned, models.DeliveryStatusPickingUp},
		models.DeliveryStatusPickedUp, now)
	require.ErrorIs(t, err, models.ErrAlreadyRecorded)
	_, err = st.AdvanceDelivery(ctx, o.ID+1000, []string{models.DeliveryStatusAssigned}, models.DeliveryStatusPickedUp, now)
	require.ErrorIs(t, err, models.ErrDeliveryNotFound)

	// Position updates are seq-gated.
	upd, err := st.ApplyPositionUpdate(ctx, d.ID,
		models.CanonicalPosition{Lat: 10.776, Lng: 106.702, SpeedKmh: 40, Seq: 2}, 0.4, 1, now)
	require.NoError(t, err)
	require.NotNil(t, upd)
	require.Equal(t, uint64(2), upd.Position.Seq)

	stale, err := st.ApplyPositionUpdate(ctx, d.ID,
		models.CanonicalPosition{Lat: 99, Lng: 99, SpeedKmh: 40, Seq: 1}, 9, 9, now)
	require.NoError(t, err)
	require.Nil(t, stale)

	got, err = st.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	require.InDelta(t, 10.776, got.Position.Lat, 1e-9)

	active, err := st.GetActiveDeliveryByDrone(ctx, claimed.Code)
	require.NoError(t, err)
	require.Equal(t, d.ID, active.ID)

	list, err := st.ListActiveDeliveries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// Completion: release credits the flight and drains battery.
	_, err = st.AdvanceDelivery(ctx, o.ID, []string{models.DeliveryStatusPickedUp}, models.DeliveryStatusDelivering, now)
	require.NoError(t, err)
	_, err = st.AdvanceDelivery(ctx, o.ID, []string{models.DeliveryStatusDelivering}, models.DeliveryStatusCompleted, now)
	require.NoError(t, err)
	require.NoError(t, st.ReleaseDrone(ctx, claimed.Code, 3.0, true))

	dr, err := st.GetDroneByCode(ctx, claimed.Code)
	require.NoError(t, err)
	require.Equal(t, models.DroneStatusAvailable, dr.Status)
	require.Equal(t, 1, dr.TotalDeliveries)
	require.InDelta(t, 3.0, dr.TotalDistanceKm, 1e-9)
	require.Equal(t, 74, dr.BatteryLevel)

	// Terminal delivery rejects further position updates.
	none, err := st.ApplyPositionUpdate(ctx, d.ID,
		models.CanonicalPosition{Lat: 1, Lng: 1, Seq: 50}, 0, 0, now)
	require.NoError(t, err)
	require.Nil(t, none)

	list, err = st.ListActiveDeliveries(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = st.GetActiveDeliveryByDrone(ctx, claimed.Code)
	require.ErrorIs(t, err, models.ErrDeliveryNotFound)
}

func TestPGDelivery_ChargeAndRelease(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := st.CreateDrone(ctx, models.DroneCreateInput{Code: "DRONE-B2", MaxSpeedKmh: 60}, now)
	require.NoError(t, err)

	// A long flight drops the drone under the dispatch floor: it lands in
	// CHARGING, not AVAILABLE.
	claimed, err := st.ClaimAvailableDrone(ctx)
	require.NoError(t, err)
	require.NoError(t, st.ReleaseDrone(ctx, claimed.Code, 40, true))

	dr, err := st.GetDroneByCode(ctx, "DRONE-B2")
	require.NoError(t, err)
	require.Equal(t, models.DroneStatusCharging, dr.Status)
	require.Equal(t, 20, dr.BatteryLevel)

	charged, err := st.ChargeDrone(ctx, "DRONE-B2")
	require.NoError(t, err)
	require.Equal(t, 100, charged.BatteryLevel)
	require.Equal(t, models.DroneStatusAvailable, charged.Status)

	require.NoError(t, st.UpdateDronePosition(ctx, "DRONE-B2", 10.78, 106.70))
	dr, err = st.GetDroneByCode(ctx, "DRONE-B2")
	require.NoError(t, err)
	require.NotNil(t, dr.CurrentLat)
	require.InDelta(t, 10.78, *dr.CurrentLat, 1e-9)

	require.ErrorIs(t, st.ReleaseDrone(ctx, "DRONE-GHOST", 0, false), models.ErrDroneNotFound)
	_, err = st.ChargeDrone(ctx, "DRONE-GHOST")
	require.ErrorIs(t, err, models.ErrDroneNotFound)
	_, err = st.GetDroneByCode(ctx, "DRONE-GHOST")
	require.ErrorIs(t, err, models.ErrDroneNotFound)
}
