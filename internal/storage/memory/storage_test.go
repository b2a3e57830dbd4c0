package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/scoreroom/internal/dependencies/mocks"
	"github.com/mcoot/scoreroom/internal/model"
)

type StorageSuite struct {
	suite.Suite
	clock   *mocks.MockClock
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.storage = New(s.clock, DefaultConfig())
	s.ctx = context.Background()
}

func (s *StorageSuite) newRoom(code model.RoomCode) *model.Room {
	return &model.Room{
		ID:        code,
		Players:   []model.Player{{ID: "conn-1", Key: "pk_1", Name: "Alice", IsHost: true, IsOnline: true}},
		HostID:    "conn-1",
		CreatedAt: s.clock.Now(),
		UpdatedAt: s.clock.Now(),
	}
}

// Room tests

func (s *StorageSuite) TestCreateAndGetRoom() {
	err := s.storage.CreateRoom(s.ctx, s.newRoom("ABC123"))
	s.Require().NoError(err)

	room, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(model.RoomCode("ABC123"), room.ID)
	s.Len(room.Players, 1)
	s.Equal("Alice", room.Players[0].Name)
}

func (s *StorageSuite) TestCreateRoomTaken() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	err := s.storage.CreateRoom(s.ctx, s.newRoom("ABC123"))
	s.ErrorIs(err, model.ErrRoomExists)
}

func (s *StorageSuite) TestGetRoomNotFound() {
	_, err := s.storage.GetRoom(s.ctx, "NOPE12")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestGetRoomReturnsCopy() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	room, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	room.Players[0].Score = 99

	again, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(int64(0), again.Players[0].Score)
}

func (s *StorageSuite) TestRoomExpires() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	s.clock.Advance(time.Hour)

	_, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.ErrorIs(err, model.ErrRoomNotFound)

	// An expired code can be reused
	s.NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))
}

func (s *StorageSuite) TestDeleteRoom() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	s.Require().NoError(s.storage.DeleteRoom(s.ctx, "ABC123"))

	_, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestMutateRoomBumpsVersionAndSlidesTTL() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	s.clock.Advance(50 * time.Minute)

	room, err := s.storage.MutateRoom(s.ctx, "ABC123", func(r *model.Room) error {
		r.Players[0].Score = 7
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(1), room.Version)
	s.Equal(int64(7), room.Players[0].Score)
	s.Equal(s.clock.Now(), room.UpdatedAt)

	// Past the original expiry but within the refreshed one
	s.clock.Advance(50 * time.Minute)
	_, err = s.storage.GetRoom(s.ctx, "ABC123")
	s.NoError(err)
}

func (s *StorageSuite) TestMutateRoomAbortsOnError() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))
	boom := errors.New("boom")

	_, err := s.storage.MutateRoom(s.ctx, "ABC123", func(r *model.Room) error {
		r.Players[0].Score = 7
		return boom
	})
	s.ErrorIs(err, boom)

	room, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(int64(0), room.Players[0].Score)
	s.Equal(int64(0), room.Version)
}

func (s *StorageSuite) TestMutateRoomNotFound() {
	_, err := s.storage.MutateRoom(s.ctx, "NOPE12", func(r *model.Room) error { return nil })
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestConcurrentMutationsAreNotLost() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	const writers, perWriter = 20, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := s.storage.MutateRoom(s.ctx, "ABC123", func(r *model.Room) error {
					r.Players[0].Score++
					return nil
				})
				s.NoError(err)
			}
		}()
	}
	wg.Wait()

	room, err := s.storage.GetRoom(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(int64(writers*perWriter), room.Players[0].Score)
	s.Equal(int64(writers*perWriter), room.Version)
}

func (s *StorageSuite) TestMutationsOfDifferentRoomsRunInParallel() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("XYZ789")))
	s.Require().NotSame(s.storage.roomLock("ABC123"), s.storage.roomLock("XYZ789"))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.storage.MutateRoom(s.ctx, "ABC123", func(r *model.Room) error {
			close(entered)
			<-release
			r.Players[0].Score = 1
			return nil
		})
		done <- err
	}()
	<-entered

	// ABC123 is mid-mutation; XYZ789 must not wait for it
	_, err := s.storage.MutateRoom(s.ctx, "XYZ789", func(r *model.Room) error {
		r.Players[0].Score = 2
		return nil
	})
	s.NoError(err)

	close(release)
	s.NoError(<-done)
	s.Equal(int64(1), s.mustGet("ABC123").Players[0].Score)
	s.Equal(int64(2), s.mustGet("XYZ789").Players[0].Score)
}

func (s *StorageSuite) TestMutateRoomDeletedMidMutation() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))

	_, err := s.storage.MutateRoom(s.ctx, "ABC123", func(r *model.Room) error {
		// Sweep only takes the map lock, so it can run while fn does
		s.clock.Advance(2 * time.Hour)
		s.Equal(1, s.storage.Sweep())
		return nil
	})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) mustGet(code model.RoomCode) *model.Room {
	room, err := s.storage.GetRoom(s.ctx, code)
	s.Require().NoError(err)
	return room
}

// Registry tests

func (s *StorageSuite) TestMembershipRoundTrip() {
	m := model.Membership{RoomCode: "ABC123", PlayerKey: "pk_1"}
	s.Require().NoError(s.storage.SetMembership(s.ctx, "conn-1", m))

	got, err := s.storage.GetMembership(s.ctx, "conn-1")
	s.Require().NoError(err)
	s.Equal(m, *got)

	s.Require().NoError(s.storage.DeleteMembership(s.ctx, "conn-1"))
	_, err = s.storage.GetMembership(s.ctx, "conn-1")
	s.ErrorIs(err, model.ErrMembershipNotFound)
}

func (s *StorageSuite) TestMembershipExpires() {
	m := model.Membership{RoomCode: "ABC123", PlayerKey: "pk_1"}
	s.Require().NoError(s.storage.SetMembership(s.ctx, "conn-1", m))

	s.clock.Advance(24 * time.Hour)

	_, err := s.storage.GetMembership(s.ctx, "conn-1")
	s.ErrorIs(err, model.ErrMembershipNotFound)
}

// Attempt tests

func (s *StorageSuite) TestRecordFailureLocksAtThreshold() {
	now := s.clock.Now()
	for i := 1; i <= 4; i++ {
		rec, err := s.storage.RecordFailure(s.ctx, "1.2.3.4:ABC123", now, 5, 15*time.Minute, 30*time.Minute)
		s.Require().NoError(err)
		s.Equal(i, rec.Attempts)
		s.False(rec.IsLocked(now))
	}

	rec, err := s.storage.RecordFailure(s.ctx, "1.2.3.4:ABC123", now, 5, 15*time.Minute, 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(5, rec.Attempts)
	s.Equal(now.Add(15*time.Minute), rec.LockedUntil)

	stored, err := s.storage.GetAttempts(s.ctx, "1.2.3.4:ABC123")
	s.Require().NoError(err)
	s.True(stored.IsLocked(now))
}

func (s *StorageSuite) TestAttemptRecordExpires() {
	now := s.clock.Now()
	_, err := s.storage.RecordFailure(s.ctx, "k", now, 5, 15*time.Minute, 30*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(30 * time.Minute)

	rec, err := s.storage.GetAttempts(s.ctx, "k")
	s.Require().NoError(err)
	s.Nil(rec)

	rec, err = s.storage.RecordFailure(s.ctx, "k", s.clock.Now(), 5, 15*time.Minute, 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, rec.Attempts)
}

func (s *StorageSuite) TestClearAttempts() {
	_, err := s.storage.RecordFailure(s.ctx, "k", s.clock.Now(), 5, 15*time.Minute, 30*time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.storage.ClearAttempts(s.ctx, "k"))

	rec, err := s.storage.GetAttempts(s.ctx, "k")
	s.Require().NoError(err)
	s.Nil(rec)
}

// Janitor tests

func (s *StorageSuite) TestSweepRemovesExpiredEntries() {
	s.Require().NoError(s.storage.CreateRoom(s.ctx, s.newRoom("ABC123")))
	s.Require().NoError(s.storage.SetMembership(s.ctx, "conn-1", model.Membership{RoomCode: "ABC123"}))
	_, err := s.storage.RecordFailure(s.ctx, "k", s.clock.Now(), 5, 15*time.Minute, 30*time.Minute)
	s.Require().NoError(err)

	s.Equal(0, s.storage.Sweep())
	s.Equal(1, s.storage.RoomCount())

	s.clock.Advance(time.Hour)
	s.Equal(2, s.storage.Sweep()) // room and attempt record
	s.Equal(0, s.storage.RoomCount())

	s.clock.Advance(24 * time.Hour)
	s.Equal(1, s.storage.Sweep())
}
