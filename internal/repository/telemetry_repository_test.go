package repository

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"sensorhub/internal/models"
	"sensorhub/internal/utils"
	"sensorhub/pkg/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var zone = time.FixedZone("+05", 5*60*60)

func sample(sec int, lux float64) *models.Telemetry {
	return &models.Telemetry{
		CreatedAt: time.Date(2024, 5, 10, 8, 0, sec, 0, zone),
		Lux:       lux,
		Current:   0.3,
		Power:     3.75,
	}
}

func newFileRepo(t *testing.T) TelemetryRepository {
	t.Helper()
	return NewFileTelemetryRepository(filepath.Join(t.TempDir(), "nested", "data.csv"), zone)
}

func newSQLiteRepo(t *testing.T) TelemetryRepository {
	t.Helper()
	db, err := database.Connect(database.Config{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "telemetry.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewTelemetryRepository(db, zone)
}

func newRedisRepo(t *testing.T) TelemetryRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTelemetryRepository(client, "", zone)
}

func backends() map[string]func(*testing.T) TelemetryRepository {
	return map[string]func(*testing.T) TelemetryRepository{
		"file":   newFileRepo,
		"sqlite": newSQLiteRepo,
		"redis":  newRedisRepo,
	}
}

func TestRepositoryContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("initialize is idempotent", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))
				require.NoError(t, repo.Append(ctx, sample(0, 1)))
				require.NoError(t, repo.Initialize(ctx))

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				assert.Len(t, records, 1)
			})

			t.Run("empty store reads as empty", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, records)

				count, err := repo.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, count)
			})

			t.Run("append then read back in order", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))

				for i := 0; i < 5; i++ {
					require.NoError(t, repo.Append(ctx, sample(i, float64(i)+0.5)))
				}

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, records, 5)
				for i, record := range records {
					assert.Equal(t, float64(i)+0.5, record.Lux)
					assert.Equal(t, 0.3, record.Current)
					assert.Equal(t, 3.75, record.Power)
					assert.True(t, sample(i, 0).CreatedAt.Equal(record.CreatedAt), "record %d at %s", i, record.CreatedAt)
					assert.Equal(t, "+05", record.CreatedAt.Location().String())
				}

				count, err := repo.Count(ctx)
				require.NoError(t, err)
				assert.EqualValues(t, 5, count)
			})

			t.Run("equal timestamps keep append order", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))

				for _, lux := range []float64{3, 1, 2} {
					require.NoError(t, repo.Append(ctx, sample(0, lux)))
				}

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, records, 3)
				assert.Equal(t, []float64{3, 1, 2}, []float64{records[0].Lux, records[1].Lux, records[2].Lux})
			})

			t.Run("truncate then append", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))
				require.NoError(t, repo.Append(ctx, sample(0, 1)))
				require.NoError(t, repo.Append(ctx, sample(1, 2)))

				require.NoError(t, repo.Truncate(ctx))

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, records)

				require.NoError(t, repo.Append(ctx, sample(2, 7)))
				records, err = repo.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, records, 1)
				assert.Equal(t, 7.0, records[0].Lux)
			})

			t.Run("exported csv round trips", func(t *testing.T) {
				for _, n := range []int{0, 1, 1000} {
					t.Run(strconv.Itoa(n), func(t *testing.T) {
						repo := factory(t)
						require.NoError(t, repo.Initialize(ctx))

						start := time.Date(2024, 5, 10, 8, 0, 0, 0, zone)
						for i := 0; i < n; i++ {
							require.NoError(t, repo.Append(ctx, &models.Telemetry{
								CreatedAt: start.Add(time.Duration(i) * time.Second),
								Lux:       float64(i) + 0.1,
								Current:   float64(i) / 3,
								Power:     1e-7 * float64(i),
							}))
						}

						records, err := repo.ReadAll(ctx)
						require.NoError(t, err)

						var buf bytes.Buffer
						require.NoError(t, utils.WriteCSV(&buf, records, utils.CSVOptions{Location: zone}))

						rows, err := csv.NewReader(&buf).ReadAll()
						require.NoError(t, err)
						require.Len(t, rows, n+1)
						assert.Equal(t, utils.CSVHeader(), rows[0])

						for i, row := range rows[1:] {
							assert.Equal(t, start.Add(time.Duration(i)*time.Second).Format("2006-01-02 15:04:05"), row[0])
							want := []float64{float64(i) + 0.1, float64(i) / 3, 1e-7 * float64(i)}
							for j := range want {
								got, err := strconv.ParseFloat(row[j+1], 64)
								require.NoError(t, err)
								assert.Equal(t, want[j], got, "row %d field %d", i, j)
							}
						}
					})
				}
			})

			t.Run("concurrent appends are all kept", func(t *testing.T) {
				repo := factory(t)
				require.NoError(t, repo.Initialize(ctx))

				const writers = 50
				var wg sync.WaitGroup
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						assert.NoError(t, repo.Append(ctx, sample(0, float64(i))))
					}(i)
				}
				wg.Wait()

				records, err := repo.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, records, writers)

				seen := make(map[float64]int, writers)
				for _, record := range records {
					seen[record.Lux]++
					assert.Equal(t, 3.75, record.Power)
				}
				for i := 0; i < writers; i++ {
					assert.Equal(t, 1, seen[float64(i)], "marker %d", i)
				}
			})
		})
	}
}

func TestFileRepositoryWritesHeaderOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.csv")

	repo := NewFileTelemetryRepository(path, zone)
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Append(ctx, sample(0, 12.5)))

	// a second process opening the same file must not rewrite the header
	reopened := NewFileTelemetryRepository(path, zone)
	require.NoError(t, reopened.Initialize(ctx))

	records, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 12.5, records[0].Lux)
}

func TestFileRepositoryAcrossDSTFallBack(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	ctx := context.Background()
	repo := NewFileTelemetryRepository(filepath.Join(t.TempDir(), "data.csv"), berlin)
	require.NoError(t, repo.Initialize(ctx))

	// 02:30 CEST then 02:10 CET, the wall clock repeats the hour
	instants := []time.Time{
		time.Date(2024, 10, 27, 0, 30, 0, 0, time.UTC),
		time.Date(2024, 10, 27, 1, 10, 0, 0, time.UTC),
	}
	for i, at := range instants {
		require.NoError(t, repo.Append(ctx, &models.Telemetry{CreatedAt: at.In(berlin), Lux: float64(i)}))
	}

	records, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, record := range records {
		assert.True(t, instants[i].Equal(record.CreatedAt), "record %d read back as %s", i, record.CreatedAt.UTC())
		assert.Equal(t, berlin, record.CreatedAt.Location())
	}
	assert.True(t, records[0].CreatedAt.Before(records[1].CreatedAt))
}

func TestFileRepositoryReadsRowsWithoutOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("created_at,lux,current,power\n2024-05-10 08:00:00,12.5,0.3,3.75\n"), 0644))

	repo := NewFileTelemetryRepository(path, zone)
	records, err := repo.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC).Equal(records[0].CreatedAt))
}

func TestFileRepositoryTerminatesUnfinishedLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("created_at,lux,current,power\n2024-01-01 00:00:00,1,2,3"), 0644))

	repo := NewFileTelemetryRepository(path, zone)
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Append(ctx, sample(0, 12.5)))

	records, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []float64{1, 2, 3}, records[0].Values())
	assert.Equal(t, 12.5, records[1].Lux)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestFileRepositorySkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"created_at,lux,current,power\n"+
			"2024-01-01 00:00:00,1,2,3\n"+
			"2024-01-01 00:00:01,4,5,62024-01-01 00:00:02,7,8,9\n"+
			"not a timestamp,1,1,1\n"+
			"2024-01-01 00:00:03,x,1,1\n"+
			"2024-01-01 00:00:04,10,11,12\n"), 0644))

	repo := NewFileTelemetryRepository(path, zone)
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Append(ctx, sample(5, 13)))

	records, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []float64{1, 10, 13}, []float64{records[0].Lux, records[1].Lux, records[2].Lux})

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestFileRepositoryMissingFile(t *testing.T) {
	repo := NewFileTelemetryRepository(filepath.Join(t.TempDir(), "absent.csv"), zone)

	_, err := repo.ReadAll(context.Background())

	var sErr *StoreError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "file", sErr.Backend)
	assert.Equal(t, "read", sErr.Op)
}

func TestRelationalAppendSetsID(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Initialize(ctx))
	assert.Equal(t, "sqlite", repo.Backend())

	first, second := sample(0, 1), sample(1, 2)
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))

	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, zone, first.CreatedAt.Location())
}

func TestRedisInitializeRejectsForeignKey(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("telemetry:records", "occupied"))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	err := NewRedisTelemetryRepository(client, "", zone).Initialize(context.Background())

	var sErr *StoreError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "redis", sErr.Backend)
	assert.Contains(t, err.Error(), "not a stream")
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	repo := NewRedisTelemetryRepository(client, "", zone)
	mr.Close()

	err := repo.Append(context.Background(), sample(0, 1))

	var sErr *StoreError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "append", sErr.Op)
}

func TestStoreErrorNilPassthrough(t *testing.T) {
	assert.NoError(t, storeErr("file", "append", nil))
	err := storeErr("file", "append", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "file store append: context deadline exceeded", err.Error())
}
