package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/models"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"bitbucket.org/mmdatafocus/fieldops_backend/workflow"
)

// End-to-end coverage of the change request lifecycle against real MySQL + Redis.
//
// Usage (requires Docker): INTEGRATION_TESTS=1 go test ./models -run ChangeRequestLifecycle -v

func TestChangeRequestLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fieldops_test")

	// Connect deps.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Migrate schema (in a fresh DB).
	models.MigrateTable()

	// History hooks require user context.
	seedCtx := utils.SetUserIdInContext(ctx, 1)
	seedCtx = utils.SetUserNameInContext(seedCtx, "Test")
	seedCtx = utils.SetUsernameInContext(seedCtx, "test@local")

	biz, err := models.CreateBusiness(seedCtx, &models.NewBusiness{
		Name:  "Test FieldOps",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	seedCtx = utils.SetBusinessIdInContext(seedCtx, businessID)

	north, err := models.CreateZone(seedCtx, &models.NewZone{Name: "North", Code: "N01"})
	if err != nil {
		t.Fatalf("CreateZone(North): %v", err)
	}
	south, err := models.CreateZone(seedCtx, &models.NewZone{Name: "South", Code: "S01"})
	if err != nil {
		t.Fatalf("CreateZone(South): %v", err)
	}

	requester := createTestUser(t, seedCtx, businessID, "requester", models.UserRoleSupervisor)
	northSup := createTestUser(t, seedCtx, businessID, "north-sup", models.UserRoleSupervisor)
	southSup := createTestUser(t, seedCtx, businessID, "south-sup", models.UserRoleSupervisor)

	if _, err := models.AssignZone(seedCtx, &models.NewZoneAssignment{
		UserId: northSup.ID, ZoneId: north.ID, Kind: models.ZoneAssignmentKindRestricted,
	}); err != nil {
		t.Fatalf("AssignZone(north-sup): %v", err)
	}
	if _, err := models.AssignZone(seedCtx, &models.NewZoneAssignment{
		UserId: southSup.ID, ZoneId: south.ID, Kind: models.ZoneAssignmentKindRestricted,
	}); err != nil {
		t.Fatalf("AssignZone(south-sup): %v", err)
	}

	kiosk, err := models.CreatePointOfSale(seedCtx, &models.NewPointOfSale{
		ZoneId:    north.ID,
		Name:      "Kiosk 42",
		OwnerName: "Daw Mya",
		City:      "Yangon",
	})
	if err != nil {
		t.Fatalf("CreatePointOfSale: %v", err)
	}

	requesterCtx := actorContext(ctx, businessID, requester)
	northCtx := actorContext(ctx, businessID, northSup)
	southCtx := actorContext(ctx, businessID, southSup)

	t.Run("empty diff is rejected at submission", func(t *testing.T) {
		_, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{},
		})
		if !errors.Is(err, utils.ErrorEmptyDiff) {
			t.Fatalf("expected ErrorEmptyDiff, got %v", err)
		}
	})

	t.Run("approve applies the diff and is terminal", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{"point_name": "Kiosk 42 Renovated"},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}
		if cr.Status != models.ChangeRequestStatusPending {
			t.Fatalf("expected Pending, got %s", cr.Status)
		}
		if cr.ZoneId != north.ID {
			t.Fatalf("expected zone frozen from point of sale, got %d", cr.ZoneId)
		}

		// wrong-zone supervisor is turned away and the request stays pending
		if _, err := workflow.ApproveChangeRequest(southCtx, cr.ID); !errors.Is(err, utils.ErrorForbiddenScope) {
			t.Fatalf("expected ErrorForbiddenScope for south supervisor, got %v", err)
		}
		pending, err := models.GetChangeRequest(requesterCtx, cr.ID)
		if err != nil {
			t.Fatalf("GetChangeRequest: %v", err)
		}
		if pending.Status != models.ChangeRequestStatusPending {
			t.Fatalf("forbidden attempt must not move status, got %s", pending.Status)
		}

		result, err := workflow.ApproveChangeRequest(northCtx, cr.ID)
		if err != nil {
			t.Fatalf("ApproveChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeApprovedAndApplied {
			t.Fatalf("expected approved_and_applied, got %s (%s)", result.Outcome, result.ApplyError)
		}
		if result.FieldsChanged != 1 {
			t.Fatalf("expected 1 field changed, got %d", result.FieldsChanged)
		}

		updated, err := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if err != nil {
			t.Fatalf("GetPointOfSale: %v", err)
		}
		if updated.Name != "Kiosk 42 Renovated" {
			t.Fatalf("expected applied name, got %q", updated.Name)
		}

		// second decision of either kind bounces off the terminal state
		if _, err := workflow.RejectChangeRequest(northCtx, cr.ID, "changed my mind"); !errors.Is(err, utils.ErrorInvalidState) {
			t.Fatalf("expected ErrorInvalidState on second decision, got %v", err)
		}
		decided, _ := models.GetChangeRequest(requesterCtx, cr.ID)
		if decided.Status != models.ChangeRequestStatusApproved {
			t.Fatalf("first decision must stand, got %s", decided.Status)
		}
		if decided.DecidedBy == nil || *decided.DecidedBy != northSup.ID {
			t.Fatalf("expected decided_by=%d, got %v", northSup.ID, decided.DecidedBy)
		}

		histories, err := models.PaginateHistories(northCtx, "ChangeRequest", cr.ID, nil, nil)
		if err != nil {
			t.Fatalf("PaginateHistories: %v", err)
		}
		if len(histories.Edges) < 2 {
			t.Fatalf("expected submit + decide audit rows, got %d", len(histories.Edges))
		}

		// audit rows page newest-first on the id cursor
		one := 1
		firstPage, err := models.PaginateHistories(northCtx, "ChangeRequest", cr.ID, &one, nil)
		if err != nil {
			t.Fatalf("PaginateHistories(limit=1): %v", err)
		}
		if len(firstPage.Edges) != 1 {
			t.Fatalf("expected one edge, got %d", len(firstPage.Edges))
		}
		if firstPage.PageInfo.HasNextPage == nil || !*firstPage.PageInfo.HasNextPage {
			t.Fatal("expected a next page of audit rows")
		}
		secondPage, err := models.PaginateHistories(northCtx, "ChangeRequest", cr.ID, &one, &firstPage.PageInfo.EndCursor)
		if err != nil {
			t.Fatalf("PaginateHistories(after): %v", err)
		}
		if len(secondPage.Edges) != 1 || secondPage.Edges[0].Node.ID >= firstPage.Edges[0].Node.ID {
			t.Fatal("expected the next page to continue below the cursor")
		}
	})

	t.Run("reject records reason and applies nothing", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{"owner_name": "U Ba"},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		result, err := workflow.RejectChangeRequest(northCtx, cr.ID, "owner change needs paperwork")
		if err != nil {
			t.Fatalf("RejectChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeRejected {
			t.Fatalf("expected rejected outcome, got %s", result.Outcome)
		}
		if result.ChangeRequest.RejectionReason == nil || *result.ChangeRequest.RejectionReason != "owner change needs paperwork" {
			t.Fatalf("expected rejection reason to be stored, got %v", result.ChangeRequest.RejectionReason)
		}

		pos, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if pos.OwnerName != "Daw Mya" {
			t.Fatalf("reject must not touch the point of sale, got owner %q", pos.OwnerName)
		}
	})

	t.Run("unknown diff keys are dropped at apply time", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff: map[string]interface{}{
				"address":     "12 Hledan Rd",
				"legacy_flag": true,
			},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		result, err := workflow.ApproveChangeRequest(northCtx, cr.ID)
		if err != nil {
			t.Fatalf("ApproveChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeApprovedAndApplied {
			t.Fatalf("expected approved_and_applied, got %s (%s)", result.Outcome, result.ApplyError)
		}
		if result.FieldsChanged != 1 {
			t.Fatalf("expected only the known field to count, got %d", result.FieldsChanged)
		}
		pos, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if pos.Address != "12 Hledan Rd" {
			t.Fatalf("expected address applied, got %q", pos.Address)
		}
	})

	t.Run("zone stays frozen after the point of sale moves", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{"city": "Mandalay"},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		// move the point of sale south while the request is pending
		if _, err := models.ApplyPointOfSaleFields(seedCtx, businessID, kiosk.ID, map[string]interface{}{
			"zone_id": float64(south.ID),
		}); err != nil {
			t.Fatalf("move point of sale: %v", err)
		}

		// the north supervisor still owns the pending decision
		if _, err := workflow.ApproveChangeRequest(southCtx, cr.ID); !errors.Is(err, utils.ErrorForbiddenScope) {
			t.Fatalf("expected south supervisor to stay forbidden, got %v", err)
		}
		if _, err := workflow.ApproveChangeRequest(northCtx, cr.ID); err != nil {
			t.Fatalf("north supervisor must still decide the frozen-zone request: %v", err)
		}
	})

	// the kiosk moved to the south zone above, so the south supervisor
	// now owns the decisions on fresh submissions
	t.Run("approval with nothing applicable is approved only", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{"legacy_flag": true},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		before, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)

		result, err := workflow.ApproveChangeRequest(southCtx, cr.ID)
		if err != nil {
			t.Fatalf("ApproveChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeApprovedOnly {
			t.Fatalf("expected approved_only when every key is dropped, got %s", result.Outcome)
		}
		if result.FieldsChanged != 0 {
			t.Fatalf("expected no fields changed, got %d", result.FieldsChanged)
		}
		if result.ApplyError == "" {
			t.Fatal("expected the degraded outcome to carry a reason")
		}

		decided, err := models.GetChangeRequest(requesterCtx, cr.ID)
		if err != nil {
			t.Fatalf("GetChangeRequest: %v", err)
		}
		if decided.Status != models.ChangeRequestStatusApproved {
			t.Fatalf("the approval itself must stand, got %s", decided.Status)
		}
		if decided.DecidedAt == nil {
			t.Fatal("expected decided_at to be set")
		}

		after, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatal("point of sale must not be touched when nothing applies")
		}
	})

	t.Run("apply failure downgrades the outcome but keeps the approval", func(t *testing.T) {
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          map[string]interface{}{"zone_id": float64(999999)},
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		result, err := workflow.ApproveChangeRequest(southCtx, cr.ID)
		if err != nil {
			t.Fatalf("ApproveChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeApprovedOnly {
			t.Fatalf("expected approved_only on apply failure, got %s", result.Outcome)
		}
		if result.ApplyError == "" {
			t.Fatal("expected the apply error to be reported")
		}

		decided, _ := models.GetChangeRequest(requesterCtx, cr.ID)
		if decided.Status != models.ChangeRequestStatusApproved {
			t.Fatalf("apply failure must not revert the decision, got %s", decided.Status)
		}
		pos, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if pos.ZoneId != south.ID {
			t.Fatalf("failed apply must leave the zone alone, got %d", pos.ZoneId)
		}
	})

	t.Run("applied values come from the submitted diff", func(t *testing.T) {
		submitted := map[string]interface{}{"owner_name": "Ma Hla"}
		cr, err := models.SubmitChangeRequest(requesterCtx, &models.NewChangeRequest{
			PointOfSaleId: kiosk.ID,
			Diff:          submitted,
		})
		if err != nil {
			t.Fatalf("SubmitChangeRequest: %v", err)
		}

		result, err := workflow.ApproveChangeRequest(southCtx, cr.ID)
		if err != nil {
			t.Fatalf("ApproveChangeRequest: %v", err)
		}
		if result.Outcome != workflow.OutcomeApprovedAndApplied {
			t.Fatalf("expected approved_and_applied, got %s (%s)", result.Outcome, result.ApplyError)
		}

		decided := result.ChangeRequest
		if decided.DecidedAt == nil {
			t.Fatal("expected decided_at to be set before the apply")
		}
		stored, err := decided.DiffFields()
		if err != nil {
			t.Fatalf("DiffFields: %v", err)
		}
		if stored["owner_name"] != submitted["owner_name"] {
			t.Fatalf("stored diff drifted from the submission: %v", stored)
		}

		pos, _ := models.GetPointOfSale(requesterCtx, kiosk.ID)
		if pos.OwnerName != "Ma Hla" {
			t.Fatalf("expected the submitted value applied, got %q", pos.OwnerName)
		}
	})

	t.Run("signin issues session and bearer tokens", func(t *testing.T) {
		info, err := models.Login(ctx, "requester", "testpw123")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if info.Token == "" {
			t.Fatal("expected a session token")
		}
		parsed, err := utils.JwtValidate(info.AccessToken)
		if err != nil || !parsed.Valid {
			t.Fatalf("expected a valid bearer token: %v", err)
		}
		claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
		if !ok || claims.ID != requester.ID {
			t.Fatalf("expected claims for user %d, got %+v", requester.ID, parsed.Claims)
		}
	})

	t.Run("pagination filters by status", func(t *testing.T) {
		status := models.ChangeRequestStatusApproved
		conn, err := models.PaginateChangeRequests(requesterCtx, nil, nil, &status, nil, nil, nil, nil)
		if err != nil {
			t.Fatalf("PaginateChangeRequests: %v", err)
		}
		if len(conn.Edges) == 0 {
			t.Fatal("expected at least one approved request")
		}
		for _, edge := range conn.Edges {
			if edge.Node.Status != models.ChangeRequestStatusApproved {
				t.Fatalf("filter leaked status %s", edge.Node.Status)
			}
		}
		// newest first
		for i := 1; i < len(conn.Edges); i++ {
			if conn.Edges[i-1].Node.CreatedAt.Before(conn.Edges[i].Node.CreatedAt) {
				t.Fatal("expected created_at DESC ordering")
			}
		}
	})
}

func createTestUser(t *testing.T, ctx context.Context, businessID, username string, role models.UserRole) *models.User {
	t.Helper()
	user, err := models.CreateUser(ctx, &models.NewUser{
		BusinessId: businessID,
		Username:   username,
		Name:       username,
		Password:   "testpw123",
		IsActive:   utils.NewTrue(),
		Role:       role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func actorContext(ctx context.Context, businessID string, user *models.User) context.Context {
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetUsernameInContext(ctx, user.Username)
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fieldops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fieldops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fieldops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
