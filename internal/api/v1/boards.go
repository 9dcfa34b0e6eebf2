package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
)

type BoardPathInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type ListBoardsOutput struct {
	Body []domain.BoardSummary
}

// GetBoardOutput carries the encoded document. Reserved members and
// client-owned content share one JSON object, so the body is written as is.
type GetBoardOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type SaveBoardInput struct {
	BoardID       string `path:"boardID" doc:"Board ID"`
	ClientID      string `header:"X-Client-ID" doc:"Stream client id of the saving tab; its own update is not echoed back"`
	ClientIDQuery string `query:"clientId" doc:"Fallback for X-Client-ID"`
	RawBody       []byte `contentType:"application/json"`
}

type SaveBoardOutput struct {
	Body *board.SaveResult
}

type DeleteBoardOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

type SharingOutput struct {
	Body *board.SharingInfo
}

type UpdateSharingInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
	Body    struct {
		Action string `json:"action" required:"false" doc:"add or remove"`
		Email  string `json:"email" required:"false" doc:"Email address of the editor"`
	}
}

func RegisterBoardRoutes(api huma.API, svc BoardService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards the caller can open",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, _ *struct{}) (*ListBoardsOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		boards, err := svc.List(ctx, id)
		if err != nil {
			return nil, toHTTPError("list-boards", "", err)
		}

		return &ListBoardsOutput{Body: boards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}",
		Summary:     "Get a board document",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardPathInput) (*GetBoardOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		b, err := svc.Get(ctx, input.BoardID, id)
		if err != nil {
			return nil, toHTTPError("get-board", input.BoardID, err)
		}

		doc, err := json.Marshal(b)
		if err != nil {
			return nil, toHTTPError("get-board", input.BoardID, err)
		}

		return &GetBoardOutput{ContentType: "application/json", Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-board",
		Method:      http.MethodPut,
		Path:        "/boards/{boardID}",
		Summary:     "Save a board document",
		Description: "Saves the full document if its version is not older than the stored one. " +
			"A stale version is rejected with 409 and the stored document.",
		Tags: []string{"Boards"},
		// The document is open-ended JSON; the service parses and validates it.
		SkipValidateBody: true,
	}, func(ctx context.Context, input *SaveBoardInput) (*SaveBoardOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		clientID := input.ClientID
		if clientID == "" {
			clientID = input.ClientIDQuery
		}

		res, err := svc.Save(ctx, board.SaveRequest{
			BoardID:  input.BoardID,
			Body:     input.RawBody,
			ClientID: clientID,
			Identity: id,
		})
		if err != nil {
			return nil, toHTTPError("save-board", input.BoardID, err)
		}

		return &SaveBoardOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-board",
		Method:      http.MethodDelete,
		Path:        "/boards/{boardID}",
		Summary:     "Delete a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardPathInput) (*DeleteBoardOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if err := svc.Delete(ctx, input.BoardID, id); err != nil {
			return nil, toHTTPError("delete-board", input.BoardID, err)
		}

		out := &DeleteBoardOutput{}
		out.Body.OK = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board-sharing",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}/sharing",
		Summary:     "Get a board's editors (owner only)",
		Tags:        []string{"Sharing"},
	}, func(ctx context.Context, input *BoardPathInput) (*SharingOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		info, err := svc.Sharing(ctx, input.BoardID, id)
		if err != nil {
			return nil, toHTTPError("get-board-sharing", input.BoardID, err)
		}

		return &SharingOutput{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-board-sharing",
		Method:      http.MethodPut,
		Path:        "/boards/{boardID}/sharing",
		Summary:     "Add or remove an editor (owner only)",
		Tags:        []string{"Sharing"},
	}, func(ctx context.Context, input *UpdateSharingInput) (*SharingOutput, error) {
		id, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		info, err := svc.UpdateSharing(ctx, input.BoardID, id, input.Body.Action, input.Body.Email)
		if err != nil {
			return nil, toHTTPError("update-board-sharing", input.BoardID, err)
		}

		return &SharingOutput{Body: info}, nil
	})
}
